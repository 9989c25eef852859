package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a policy document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the encoding from the file extension.
// Unknown extensions are read as YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Load reads and parses the policy document at path.
// It does not validate; see Validate and Compile.
func Load(path string) (*Policy, error) {
	p, _, err := LoadWithHash(path)
	return p, err
}

// LoadWithHash loads a policy and returns the SHA-256 of the raw bytes on disk.
func LoadWithHash(path string) (*Policy, string, error) {
	if path == "" {
		return nil, "", &LoadError{Kind: NotFound, Err: errors.New("no policy path given")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &LoadError{Kind: NotFound, Path: path, Err: err}
	}
	hash := HashBytes(data)

	p, err := Parse(data, FormatFromPath(path))
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, hash, err
	}
	return p, hash, nil
}

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Parse decodes a policy document. Unknown keys are rejected. A version
// newer than CurrentVersion fails with Unsupported before the strict
// decode, so future documents are not misreported as malformed.
func Parse(data []byte, format Format) (*Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &LoadError{Kind: Malformed, Err: errors.New("empty document")}
	}

	version, err := peekVersion(data, format)
	if err != nil {
		return nil, &LoadError{Kind: Malformed, Err: err}
	}
	if version > CurrentVersion {
		return nil, &LoadError{
			Kind: Unsupported,
			Err:  fmt.Errorf("version %d is newer than supported version %d", version, CurrentVersion),
		}
	}

	p := &Policy{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(p)
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), p)
		if err == nil {
			err = undecodedKeys(md)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(p)
	}
	if err != nil {
		return nil, &LoadError{Kind: Malformed, Err: err}
	}
	return p, nil
}

func peekVersion(data []byte, format Format) (int, error) {
	var head struct {
		Version int `yaml:"version" json:"version" toml:"version"`
	}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &head)
	case FormatTOML:
		_, err = toml.Decode(string(data), &head)
	default:
		err = yaml.Unmarshal(data, &head)
	}
	return head.Version, err
}

func undecodedKeys(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	sort.Strings(names)
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}

// Marshal encodes a policy in the given format. Parse(Marshal(p)) yields a
// policy that evaluates identically to p.
func Marshal(p *Policy, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(p, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return yaml.Marshal(p)
	}
}
