package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoundProvider exposes the state of the currently active round, if any.
type RoundProvider interface {
	// ActiveRoundCount returns 1 while a round is in progress, 0 otherwise.
	ActiveRoundCount() int
	// CurrentTick is the local tick of the active round.
	CurrentTick() uint32
}

// QueueDepthProvider exposes input queue fill levels for jitter monitoring.
type QueueDepthProvider interface {
	LocalQueueLen() int
	RemoteQueueLen() int
}

// StepperStatsProvider exposes rollback/fast-forward activity.
type StepperStatsProvider interface {
	FastForwardedTicksTotal() uint64
	RollbacksTotal() uint64
}

// TransportStatsProvider exposes the data channel's health.
type TransportStatsProvider interface {
	RoundTripTimeSeconds() float64
	PacketsSentTotal() uint64
	PacketsReceivedTotal() uint64
}

// MatchHistoryCounter returns the number of entries in the match-history
// store, which records one entry per completed round.
type MatchHistoryCounter interface {
	CountAll(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers Tango match-engine
// metrics at scrape time.
type Collector struct {
	round     RoundProvider
	queue     QueueDepthProvider
	stepper   StepperStatsProvider
	transport TransportStatsProvider
	history   MatchHistoryCounter
	startTime time.Time

	activeRoundsDesc    *prometheus.Desc
	currentTickDesc     *prometheus.Desc
	localQueueLenDesc   *prometheus.Desc
	remoteQueueLenDesc  *prometheus.Desc
	fastForwardedDesc   *prometheus.Desc
	rollbacksDesc       *prometheus.Desc
	rttDesc             *prometheus.Desc
	packetsSentDesc     *prometheus.Desc
	packetsReceivedDesc *prometheus.Desc
	matchHistoryDesc    *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	round RoundProvider,
	queue QueueDepthProvider,
	stepper StepperStatsProvider,
	transport TransportStatsProvider,
	history MatchHistoryCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		round:     round,
		queue:     queue,
		stepper:   stepper,
		transport: transport,
		history:   history,
		startTime: startTime,

		activeRoundsDesc: prometheus.NewDesc(
			"tango_active_rounds",
			"1 while a round is in progress, 0 otherwise",
			nil, nil,
		),
		currentTickDesc: prometheus.NewDesc(
			"tango_round_tick",
			"Local tick counter of the active round",
			nil, nil,
		),
		localQueueLenDesc: prometheus.NewDesc(
			"tango_input_queue_local_len",
			"Number of local inputs buffered ahead of the remote peer",
			nil, nil,
		),
		remoteQueueLenDesc: prometheus.NewDesc(
			"tango_input_queue_remote_len",
			"Number of remote inputs buffered ahead of local consumption",
			nil, nil,
		),
		fastForwardedDesc: prometheus.NewDesc(
			"tango_stepper_fast_forwarded_ticks_total",
			"Total ticks replayed by the stepper to catch up after a stall",
			nil, nil,
		),
		rollbacksDesc: prometheus.NewDesc(
			"tango_stepper_rollbacks_total",
			"Total savestate rollbacks performed by the stepper",
			nil, nil,
		),
		rttDesc: prometheus.NewDesc(
			"tango_transport_rtt_seconds",
			"Measured round-trip time to the peer over the data channel",
			nil, nil,
		),
		packetsSentDesc: prometheus.NewDesc(
			"tango_transport_packets_sent_total",
			"Total wire packets sent to the peer",
			nil, nil,
		),
		packetsReceivedDesc: prometheus.NewDesc(
			"tango_transport_packets_received_total",
			"Total wire packets received from the peer",
			nil, nil,
		),
		matchHistoryDesc: prometheus.NewDesc(
			"tango_match_history_total",
			"Total rounds recorded in the local history store",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"tango_uptime_seconds",
			"Seconds since the Tango process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRoundsDesc
	ch <- c.currentTickDesc
	ch <- c.localQueueLenDesc
	ch <- c.remoteQueueLenDesc
	ch <- c.fastForwardedDesc
	ch <- c.rollbacksDesc
	ch <- c.rttDesc
	ch <- c.packetsSentDesc
	ch <- c.packetsReceivedDesc
	ch <- c.matchHistoryDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.round != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeRoundsDesc, prometheus.GaugeValue,
			float64(c.round.ActiveRoundCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.currentTickDesc, prometheus.GaugeValue,
			float64(c.round.CurrentTick()),
		)
	}

	if c.queue != nil {
		ch <- prometheus.MustNewConstMetric(
			c.localQueueLenDesc, prometheus.GaugeValue,
			float64(c.queue.LocalQueueLen()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.remoteQueueLenDesc, prometheus.GaugeValue,
			float64(c.queue.RemoteQueueLen()),
		)
	}

	if c.stepper != nil {
		ch <- prometheus.MustNewConstMetric(
			c.fastForwardedDesc, prometheus.CounterValue,
			float64(c.stepper.FastForwardedTicksTotal()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.rollbacksDesc, prometheus.CounterValue,
			float64(c.stepper.RollbacksTotal()),
		)
	}

	if c.transport != nil {
		ch <- prometheus.MustNewConstMetric(
			c.rttDesc, prometheus.GaugeValue,
			c.transport.RoundTripTimeSeconds(),
		)
		ch <- prometheus.MustNewConstMetric(
			c.packetsSentDesc, prometheus.CounterValue,
			float64(c.transport.PacketsSentTotal()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.packetsReceivedDesc, prometheus.CounterValue,
			float64(c.transport.PacketsReceivedTotal()),
		)
	}

	if c.history != nil {
		count, err := c.history.CountAll(ctx)
		if err != nil {
			slog.Error("metrics: failed to count match history", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.matchHistoryDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
