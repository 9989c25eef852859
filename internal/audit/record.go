package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ppiankov/toolgate/internal/model"
)

// Record is one governance decision in the audit trail.
// All fields are plain strings so json.Marshal field order is fixed and
// line hashes are reproducible.
type Record struct {
	Timestamp  string `json:"ts"`
	DecisionID string `json:"decision_id"`
	Identity   string `json:"identity"`
	Session    string `json:"session,omitempty"`
	Tool       string `json:"tool"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	RuleID     string `json:"rule_id,omitempty"`
	Stage      string `json:"stage"`
	ArgsDigest string `json:"args_digest"`
	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

// Digest returns "sha256:<hex>" of the serialized arguments. Raw arguments
// never reach the audit trail.
func Digest(args []byte) string {
	h := sha256.Sum256(args)
	return "sha256:" + hex.EncodeToString(h[:])
}

// FromResult builds the record for a decision.
func FromResult(req model.Request, res model.CheckResult, argsDigest string) Record {
	return Record{
		Timestamp:  model.UTCISO(res.Timestamp),
		DecisionID: res.DecisionID,
		Identity:   req.Identity,
		Session:    req.Session,
		Tool:       req.Tool,
		Decision:   string(res.Decision()),
		Reason:     res.Reason,
		RuleID:     res.MatchedRuleID,
		Stage:      string(res.Stage),
		ArgsDigest: argsDigest,
		PolicyHash: res.PolicyHash,
	}
}
