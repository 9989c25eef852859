package policy

import (
	"testing"
)

func FuzzParseYAML(f *testing.F) {
	f.Add([]byte(DefaultPolicyYAML()))

	f.Add([]byte(`version: 1
default_action: allow
`))

	f.Add([]byte{})

	f.Add([]byte(`{{{not yaml at all`))

	f.Add([]byte(`version: 99`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input; anything that parses must either
		// compile or fail validation with a typed error.
		p, err := Parse(data, FormatYAML)
		if err != nil {
			return
		}
		Compile(p)
	})
}

func FuzzParseJSON(f *testing.F) {
	f.Add([]byte(`{"version":1,"default_action":"block","rules":[]}`))
	f.Add([]byte(`{"version":1,"rules":[{"id":"a","identity_match":"*","scope":{"tools":"*","action":"allow"}}]}`))
	f.Add([]byte(`[]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Parse(data, FormatJSON)
		if err != nil {
			return
		}
		Compile(p)
	})
}
