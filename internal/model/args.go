package model

import (
	"bytes"
	"encoding/json"
)

// SerializeArgs renders tool call arguments into the byte payload that is
// scanned and digested. Raw payloads ([]byte, json.RawMessage, string) are
// used as-is; everything else is JSON-encoded with sorted map keys and no
// HTML escaping, so patterns containing <, > or & still match.
func SerializeArgs(args any) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
