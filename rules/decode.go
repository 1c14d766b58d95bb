package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// maxWrapDepth bounds {"rules": {"rules": ...}} nesting.
const maxWrapDepth = 2

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n(.*?)```")

// stripFence returns the body of the first markdown code fence in data,
// or data itself when there is none. Generator responses often wrap their
// JSON this way.
func stripFence(data []byte) []byte {
	if m := fencePattern.FindSubmatch(data); m != nil {
		return m[1]
	}
	return data
}

// DecodeRules parses a rule set from JSON or YAML. Accepted shapes are a
// list of rules, a single rule, or either wrapped in {"rules": ...} up to
// twice, optionally inside a markdown code fence.
func DecodeRules(data []byte) ([]Rule, error) {
	body := bytes.TrimSpace(stripFence(data))
	if len(body) == 0 {
		return nil, errors.New("rule set is empty")
	}

	var (
		rules []Rule
		err   error
	)
	if body[0] == '{' || body[0] == '[' {
		rules, err = decodeJSONRules(body, 0)
	} else {
		var doc yaml.Node
		if err := yaml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		if len(doc.Content) == 0 {
			return nil, errors.New("rule set is empty")
		}
		rules, err = decodeYAMLRules(doc.Content[0], 0)
	}
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if err := rules[i].Status.UnmarshalText([]byte(rules[i].Status)); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}

func decodeJSONRules(data []byte, depth int) ([]Rule, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var rules []Rule
		if err := json.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return rules, nil
	}

	var wrapper struct {
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(wrapper.Rules) > 0 && depth < maxWrapDepth {
		return decodeJSONRules(wrapper.Rules, depth+1)
	}

	var r Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	return []Rule{r}, nil
}

func decodeYAMLRules(n *yaml.Node, depth int) ([]Rule, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var rules []Rule
		if err := n.Decode(&rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return rules, nil
	case yaml.MappingNode:
		if v := mappingValue(n, "rules"); v != nil && depth < maxWrapDepth {
			return decodeYAMLRules(v, depth+1)
		}
		var r Rule
		if err := n.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to parse rule: %w", err)
		}
		return []Rule{r}, nil
	default:
		return nil, fmt.Errorf("failed to parse rules: line %d: expected a list or a mapping", n.Line)
	}
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// DecodeRecords parses a record set: a JSON or YAML list of objects, or
// such a list under "data" or "records". JSON numbers keep their integer
// or decimal form.
func DecodeRecords(data []byte) ([]Record, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '{' && body[0] != '[' {
		var records []Record
		if err := yaml.Unmarshal(body, &records); err != nil {
			var wrapped struct {
				Data    []Record `yaml:"data"`
				Records []Record `yaml:"records"`
			}
			if werr := yaml.Unmarshal(body, &wrapped); werr != nil {
				return nil, fmt.Errorf("failed to parse records: %w", err)
			}
			return append(wrapped.Data, wrapped.Records...), nil
		}
		return records, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if body[0] == '[' {
		var records []Record
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Data    []Record `json:"data"`
		Records []Record `json:"records"`
	}
	if err := dec.Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	return append(wrapped.Data, wrapped.Records...), nil
}
