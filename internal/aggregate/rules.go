package aggregate

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule rewrites dimension values. When Key matches the dimension key, every
// match of Value in the dimension value is replaced by Replacement, which may
// reference capture groups as $1 or ${name}.
type Rule struct {
	Key         *regexp.Regexp
	Value       *regexp.Regexp
	Replacement string
}

// LoadRules reads normalization rules from a JSON or YAML file holding a list
// of [key pattern, value pattern, replacement] entries.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read normalization rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes normalization rules. Entries keep their file order.
func ParseRules(data []byte) ([]Rule, error) {
	var raw [][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse normalization rules: %w", err)
	}
	rules := make([]Rule, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 3 {
			return nil, fmt.Errorf("normalization rule %d: expected 3 entries, got %d", i, len(entry))
		}
		key, err := regexp.Compile(entry[0])
		if err != nil {
			return nil, fmt.Errorf("normalization rule %d: key pattern: %w", i, err)
		}
		value, err := regexp.Compile(entry[1])
		if err != nil {
			return nil, fmt.Errorf("normalization rule %d: value pattern: %w", i, err)
		}
		rules = append(rules, Rule{Key: key, Value: value, Replacement: entry[2]})
	}
	return rules, nil
}

// Normalize applies rules in order. Each rule sees the value produced by the
// previous one.
func Normalize(rules []Rule, key, value string) string {
	for _, r := range rules {
		if matchPrefix(r.Key, key) {
			value = r.Value.ReplaceAllString(value, r.Replacement)
		}
	}
	return value
}

// matchPrefix reports whether re matches at the start of s.
func matchPrefix(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
