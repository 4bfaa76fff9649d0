package plan

import (
	"fmt"
	"strings"
)

// RiskLevel is the upstream planner's risk estimate for a work item.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// WorkItem is a leaf unit of an upstream plan. It is read-only to the orchestrator.
type WorkItem struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Risk         RiskLevel `json:"risk,omitempty" yaml:"risk,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Resources    []string  `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Text returns the text used for role classification.
func (w WorkItem) Text() string {
	return strings.TrimSpace(w.Title + " " + w.Description)
}

// Plan is an ordered list of work items belonging to one plan id.
type Plan struct {
	ID    string     `json:"id" yaml:"id"`
	Title string     `json:"title,omitempty" yaml:"title,omitempty"`
	Items []WorkItem `json:"items" yaml:"items"`
}

// Validate checks structural constraints on the plan itself: ids must be
// present and unique and risk levels must be known. Dependency references are
// deliberately not checked here; the graph builder reports those.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}

	seen := make(map[string]bool, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if item.ID == "" {
			return fmt.Errorf("item %d in plan %q has no id", i, p.ID)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate item id %q in plan %q", item.ID, p.ID)
		}
		seen[item.ID] = true

		if item.Risk == "" {
			item.Risk = RiskMedium
		}
		if !item.Risk.Valid() {
			return fmt.Errorf("item %q has unknown risk level %q", item.ID, item.Risk)
		}
	}

	return nil
}
