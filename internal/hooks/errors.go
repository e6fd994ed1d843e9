package hooks

import "errors"

// ErrPairsExhausted is reported by a stepper trap that fires after the
// recorded pair sequence has been fully consumed.
var ErrPairsExhausted = errors.New("hooks: stepper pair sequence exhausted")
