package textnorm

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the YAML shape of an external rules document.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from a YAML file. A missing file is
// not an error: the compiled-in defaults are returned so a fresh deployment
// works without any tuning.
func LoadRules(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), nil
		}
		return nil, fmt.Errorf("textnorm: open rules file %q: %w", path, err)
	}
	defer f.Close()

	rules, err := LoadRulesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("textnorm: rules file %q: %w", path, err)
	}
	return rules, nil
}

// LoadRulesFromReader decodes a rule list from YAML. Unknown fields are
// rejected so typos surface at startup. An empty document yields the
// compiled-in defaults.
func LoadRulesFromReader(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc rulesFile
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return DefaultRules(), nil
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Rules) == 0 {
		return DefaultRules(), nil
	}
	return doc.Rules, nil
}
