package metrics

import "errors"

// errResetTimeout is returned by Block.Reset when the writer queue did not
// drain before the deadline. finch.ResetMetrics reports it as the public
// finch.ResetTimeoutError, which unwraps to finch.ErrResetTimeout rather
// than to this sentinel.
var errResetTimeout = errors.New("metrics: reset timed out waiting for writers to drain")

// ErrResetTimeout exposes the sentinel for callers that use this package
// directly, without going through finch.ResetMetrics.
var ErrResetTimeout = errResetTimeout
