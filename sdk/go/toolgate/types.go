package toolgate

import (
	"fmt"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

// Decision is the governance outcome.
type Decision string

const (
	Allow Decision = Decision(model.Allow)
	Block Decision = Decision(model.Block)
)

// Call describes one intended tool invocation. Empty Identity and Session
// fall back to the guard's defaults.
type Call struct {
	Tool     string
	Identity string
	Session  string
	Args     any
}

// Result is a governance decision.
type Result struct {
	Decision   Decision
	Reason     string
	RuleID     string
	Stage      string
	DecisionID string
	RetryAfter time.Duration
}

// Allowed returns true if the decision permits the call.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// BlockedError is returned by wrapped tools when the call is blocked.
type BlockedError struct {
	Call   Call
	Result Result
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("toolgate blocked %s (%s): %s", e.Call.Tool, e.Result.Stage, e.Result.Reason)
}

// RateLimited reports whether the block came from the rate limiter.
func (e *BlockedError) RateLimited() bool {
	return e.Result.Stage == string(model.StageRateLimit)
}

func toResult(res model.CheckResult) Result {
	return Result{
		Decision:   Decision(res.Decision()),
		Reason:     res.Reason,
		RuleID:     res.MatchedRuleID,
		Stage:      string(res.Stage),
		DecisionID: res.DecisionID,
		RetryAfter: res.RetryAfter,
	}
}
