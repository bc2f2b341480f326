// Package metafile models the build metadata emitted by esbuild (the
// "metafile") and loads it from disk.
//
// Only the parts the dependency graph needs are typed. The inputs object keeps
// the key order of the source document so that graph construction is
// reproducible for a given file.
package metafile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Metafile is the top-level build metadata document.
type Metafile struct {
	Inputs  Inputs                     `json:"inputs"`
	Outputs map[string]json.RawMessage `json:"outputs,omitempty"`
}

// Input describes one source file that took part in the build.
type Input struct {
	Bytes   int64             `json:"bytes"`
	Imports []ImportRecord    `json:"imports"`
	Format  string            `json:"format,omitempty"`
	With    map[string]string `json:"with,omitempty"`
}

// ImportRecord is one resolved reference from an input to another file.
type ImportRecord struct {
	Path     string            `json:"path"`
	Kind     string            `json:"kind"`
	External bool              `json:"external,omitempty"`
	Original string            `json:"original,omitempty"`
	With     map[string]string `json:"with,omitempty"`
}

// Inputs maps a file path to its Input while remembering insertion order.
// The zero value is an empty, usable collection.
type Inputs struct {
	byPath map[string]Input
	order  []string
}

// NewInputs returns an empty Inputs collection.
func NewInputs() Inputs {
	return Inputs{byPath: make(map[string]Input)}
}

// Add stores input under path. Re-adding a path replaces the record but keeps
// its original position.
func (in *Inputs) Add(path string, input Input) {
	if in.byPath == nil {
		in.byPath = make(map[string]Input)
	}
	if _, exists := in.byPath[path]; !exists {
		in.order = append(in.order, path)
	}
	in.byPath[path] = input
}

// Get returns the input registered for path.
func (in Inputs) Get(path string) (Input, bool) {
	input, ok := in.byPath[path]
	return input, ok
}

// Paths returns the input paths in document order.
func (in Inputs) Paths() []string {
	out := make([]string, len(in.order))
	copy(out, in.order)
	return out
}

// Len reports the number of inputs.
func (in Inputs) Len() int {
	return len(in.order)
}

// UnmarshalJSON decodes a JSON object, recording the order of its keys.
func (in *Inputs) UnmarshalJSON(data []byte) error {
	*in = NewInputs()

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("inputs: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		path, ok := tok.(string)
		if !ok {
			return fmt.Errorf("inputs: unexpected key %v", tok)
		}
		var input Input
		if err := dec.Decode(&input); err != nil {
			return fmt.Errorf("inputs[%q]: %w", path, err)
		}
		in.Add(path, input)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	return nil
}

// MarshalJSON encodes the inputs as a JSON object in insertion order.
func (in Inputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, path := range in.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(path)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(in.byPath[path])
		if err != nil {
			return nil, fmt.Errorf("inputs[%q]: %w", path, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Validate checks the structural rules graph construction relies on. All
// problems are reported together.
func (m *Metafile) Validate() error {
	if m == nil {
		return errors.New("metafile is nil")
	}
	var errs []error
	for _, path := range m.Inputs.order {
		if path == "" {
			errs = append(errs, errors.New("input with empty path"))
			continue
		}
		input := m.Inputs.byPath[path]
		if input.Bytes < 0 {
			errs = append(errs, fmt.Errorf("input %s: negative byte size %d", path, input.Bytes))
		}
		for i, imp := range input.Imports {
			if imp.Path == "" {
				errs = append(errs, fmt.Errorf("input %s: import %d has empty path", path, i))
			}
			if imp.Kind == "" {
				errs = append(errs, fmt.Errorf("input %s: import %d has empty kind", path, i))
			}
		}
	}
	return errors.Join(errs...)
}

type parseOptions struct {
	schema bool
}

// ParseOption configures Parse and Load.
type ParseOption func(*parseOptions)

// WithSchemaValidation toggles JSON-schema validation of the raw document.
// It is on by default.
func WithSchemaValidation(enabled bool) ParseOption {
	return func(o *parseOptions) { o.schema = enabled }
}

// Parse decodes and validates a metafile document. A document that fails any
// check is rejected as a whole.
func Parse(data []byte, opts ...ParseOption) (*Metafile, error) {
	o := parseOptions{schema: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.schema {
		if err := validateSchema(data); err != nil {
			return nil, err
		}
	}

	var m Metafile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metafile: %w", err)
	}
	return &m, nil
}

// Load reads and parses the metafile at path.
func Load(path string, opts ...ParseOption) (*Metafile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metafile: %w", err)
	}
	m, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
