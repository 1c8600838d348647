package orchestrator

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed factors.yaml
var factorCatalogue []byte

// Factor is one unit of a strategic analysis.
type Factor struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Group       string `yaml:"-" json:"group"`
	Description string `yaml:"description" json:"description"`
}

type catalogue struct {
	Groups []struct {
		Name    string   `yaml:"name"`
		Factors []Factor `yaml:"factors"`
	} `yaml:"groups"`
}

// Factors returns the built-in catalogue in analysis order.
func Factors() ([]Factor, error) {
	return parseFactors(factorCatalogue)
}

func parseFactors(data []byte) ([]Factor, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse factor catalogue: %w", err)
	}
	var factors []Factor
	seen := map[string]bool{}
	for _, group := range c.Groups {
		for _, f := range group.Factors {
			if f.ID == "" || seen[f.ID] {
				return nil, fmt.Errorf("factor catalogue: missing or duplicate id %q", f.ID)
			}
			seen[f.ID] = true
			f.Group = group.Name
			factors = append(factors, f)
		}
	}
	return factors, nil
}

// SelectFactors returns the catalogue entries named by ids, in the order given. An
// empty ids selects every factor.
func SelectFactors(all []Factor, ids []string) ([]Factor, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]Factor, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	out := make([]Factor, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown factor %q", id)
		}
		out = append(out, f)
	}
	return out, nil
}
