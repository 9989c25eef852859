package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/toolgate/internal/identity"
	"github.com/ppiankov/toolgate/internal/model"
)

// ReplayFilter holds filtering criteria for replay. Empty fields match
// everything. Identity and Tool accept the same patterns as policy rules.
type ReplayFilter struct {
	Session  string
	Identity string
	Tool     string
	Decision string
	From     time.Time // zero value = no lower bound
	To       time.Time // zero value = no upper bound
}

func (f ReplayFilter) match(r Record) bool {
	if f.Session != "" && r.Session != f.Session {
		return false
	}
	if f.Identity != "" && !identity.MatchPattern(f.Identity, r.Identity) {
		return false
	}
	if f.Tool != "" && !identity.MatchPattern(f.Tool, r.Tool) {
		return false
	}
	if f.Decision != "" {
		want, _ := model.ParseAction(f.Decision)
		if r.Decision != string(want) {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(model.TimestampFormat, r.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// ReplaySummary holds decision counts and metadata for a replay.
type ReplaySummary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	BlockCount     int            `json:"block_count"`
	ByStage        map[string]int `json:"by_stage,omitempty"`
	Identities     int            `json:"identities"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`

	seen map[string]struct{}
}

// ReplayResult holds filtered records and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Records []Record      `json:"records"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns records matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(r) {
			continue
		}
		result.Records = append(result.Records, r)
		result.Summary.add(r)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

// Tail returns the last n records of the log, oldest first.
func Tail(path string, n int) ([]Record, error) {
	res, err := Replay(path, ReplayFilter{})
	if err != nil {
		return nil, err
	}
	recs := res.Records
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

func (s *ReplaySummary) add(r Record) {
	s.Total++

	switch r.Decision {
	case string(model.Allow):
		s.AllowCount++
	default:
		s.BlockCount++
	}

	if r.Decision != string(model.Allow) && r.Stage != "" {
		if s.ByStage == nil {
			s.ByStage = make(map[string]int)
		}
		s.ByStage[r.Stage]++
	}

	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[r.Identity]; !ok {
		s.seen[r.Identity] = struct{}{}
		s.Identities++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = r.Timestamp
	}
	s.LastTimestamp = r.Timestamp
}
