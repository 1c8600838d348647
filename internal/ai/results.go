package ai

import (
	"errors"
	"fmt"
	"strings"
)

// SuggestedTask is one task proposed for a department.
type SuggestedTask struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Role        string `json:"role,omitempty"`
}

type TaskSuggestionResult struct {
	Tasks []SuggestedTask `json:"tasks"`
}

func (r *TaskSuggestionResult) Validate() error {
	if len(r.Tasks) == 0 {
		return errors.New("no tasks suggested")
	}
	for i, task := range r.Tasks {
		if strings.TrimSpace(task.Name) == "" {
			return fmt.Errorf("task %d has no name", i+1)
		}
	}
	return nil
}

// SuggestedKPI is one KPI proposed for a goal.
type SuggestedKPI struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Baseline    float64 `json:"baseline"`
	Target      float64 `json:"target"`
}

type KpiSuggestionResult struct {
	KPIs []SuggestedKPI `json:"kpis"`
}

func (r *KpiSuggestionResult) Validate() error {
	if len(r.KPIs) == 0 {
		return errors.New("no KPIs suggested")
	}
	for i, k := range r.KPIs {
		if strings.TrimSpace(k.Description) == "" {
			return fmt.Errorf("kpi %d has no description", i+1)
		}
	}
	return nil
}

// StrategyFactorResult is the analysis of one strategic factor.
type StrategyFactorResult struct {
	Factor          string   `json:"factor"`
	Summary         string   `json:"summary"`
	Impact          string   `json:"impact"`
	Opportunities   []string `json:"opportunities"`
	Threats         []string `json:"threats"`
	Recommendations []string `json:"recommendations"`
}

var impactLevels = map[string]bool{"high": true, "medium": true, "low": true}

func (r *StrategyFactorResult) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("factor analysis has no summary")
	}
	r.Impact = strings.ToLower(strings.TrimSpace(r.Impact))
	if r.Impact == "" {
		r.Impact = "medium"
	}
	if !impactLevels[r.Impact] {
		return fmt.Errorf("unknown impact %q", r.Impact)
	}
	return nil
}
