package processor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules is an optional operator-supplied overlay for enrichment behavior,
// loaded from a YAML file at startup. Absent fields keep the configured
// defaults.
type Rules struct {
	// HighValueThreshold overrides the purchase amount cutoff when set.
	HighValueThreshold *float64 `yaml:"high_value_threshold"`

	// KindTags lists extra enrichment tags applied per event kind.
	KindTags map[string][]string `yaml:"kind_tags"`
}

// LoadRules reads and parses an enrichment rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	return &rules, nil
}
