package scenario

// Case is one call (or a burst of identical calls) within a scenario.
type Case struct {
	Identity       string         `yaml:"identity"`
	Tool           string         `yaml:"tool"`
	Args           map[string]any `yaml:"args,omitempty"`
	Session        string         `yaml:"session,omitempty"`
	Repeat         int            `yaml:"repeat,omitempty"`  // calls to make, default 1
	Advance        string         `yaml:"advance,omitempty"` // clock advance before the case, e.g. "61s"
	Expect         string         `yaml:"expect"`
	ReasonContains string         `yaml:"reason_contains,omitempty"`
}

// Scenario is a named sequence of calls checked against one policy. Cases
// share a gate, so rate-limit state carries from one case to the next.
type Scenario struct {
	Name   string `yaml:"name"`
	Policy string `yaml:"policy,omitempty"` // relative to the scenario file
	Cases  []Case `yaml:"cases"`
}

// CaseResult is the outcome of one call.
type CaseResult struct {
	Index    int    `json:"index"`
	Call     int    `json:"call"`
	Passed   bool   `json:"passed"`
	Identity string `json:"identity"`
	Tool     string `json:"tool"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason"`
	Problem  string `json:"problem,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Policy string       `json:"policy"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
