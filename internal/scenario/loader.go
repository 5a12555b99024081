package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// file is the document form of a scenario file: either a list under
// "scenarios" or a single scenario at the top level.
type file struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load decodes every YAML document in r. Unknown keys are rejected.
func Load(r io.Reader) ([]Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var out []Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 0; ; doc++ {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		found, err := decodeDocument(&node)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		out = append(out, found...)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no scenarios found")
	}
	seen := make(map[string]bool, len(out))
	for _, sc := range out {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return out, nil
}

func decodeDocument(node *yaml.Node) ([]Scenario, error) {
	root := node
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", root.Line)
	}

	if hasKey(root, "scenarios") {
		var f file
		if err := decodeStrict(root, &f); err != nil {
			return nil, err
		}
		return f.Scenarios, nil
	}
	var sc Scenario
	if err := decodeStrict(root, &sc); err != nil {
		return nil, err
	}
	return []Scenario{sc}, nil
}

// decodeStrict re-encodes node so the decoder can reject unknown fields,
// which Node.Decode does not do.
func decodeStrict(node *yaml.Node, out interface{}) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func hasKey(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}

// LoadFile loads scenarios from path. A leading ~ is expanded.
func LoadFile(path string) ([]Scenario, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scenarios, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}
