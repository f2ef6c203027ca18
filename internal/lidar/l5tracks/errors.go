package l5tracks

import "errors"

// Sentinel errors returned by the neighborhood graph. Callers match them
// with errors.Is; the returned errors wrap them with context.
var (
	// ErrConfiguration reports invalid capacity or window parameters at
	// construction time.
	ErrConfiguration = errors.New("l5tracks: invalid graph configuration")

	// ErrIndexOutOfRange reports a component query beyond the current count.
	ErrIndexOutOfRange = errors.New("l5tracks: component index out of range")

	// ErrStaleBatch reports a batch with inconsistent timestamps or a
	// timestamp earlier than the last processed batch. The graph is unchanged.
	ErrStaleBatch = errors.New("l5tracks: stale hypothesis batch")
)
