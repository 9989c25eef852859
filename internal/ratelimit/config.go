package ratelimit

import "time"

// Limit is the admission budget for one (identity, tool) key.
// Zero values mean no limit.
type Limit struct {
	Window   time.Duration
	MaxCalls int
}

// Enabled reports whether the limit constrains anything.
func (l Limit) Enabled() bool {
	return l.MaxCalls > 0 && l.Window > 0
}
