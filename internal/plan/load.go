package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// hclPlan mirrors Plan for HCL files:
//
//	id    = "launch"
//	title = "Product launch"
//
//	item "draft" {
//	  title      = "Draft the announcement"
//	  risk       = "low"
//	  depends_on = ["research"]
//	}
type hclPlan struct {
	ID    string    `hcl:"id"`
	Title string    `hcl:"title,optional"`
	Items []hclItem `hcl:"item,block"`
}

type hclItem struct {
	ID          string   `hcl:"id,label"`
	Title       string   `hcl:"title"`
	Description string   `hcl:"description,optional"`
	Risk        string   `hcl:"risk,optional"`
	DependsOn   []string `hcl:"depends_on,optional"`
	Resources   []string `hcl:"resources,optional"`
}

// Load reads a plan file. The format is chosen by extension:
// .yaml/.yml, .json or .hcl.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes plan data; filename is used to pick the format and for diagnostics.
func Parse(filename string, data []byte) (*Plan, error) {
	var p Plan

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
	case ".hcl":
		var hp hclPlan
		if err := hclsimple.Decode(filename, data, nil, &hp); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
		p = fromHCL(hp)
	default:
		return nil, fmt.Errorf("unsupported plan format %q", ext)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", filename, err)
	}
	return &p, nil
}

func fromHCL(hp hclPlan) Plan {
	p := Plan{ID: hp.ID, Title: hp.Title, Items: make([]WorkItem, 0, len(hp.Items))}
	for _, it := range hp.Items {
		p.Items = append(p.Items, WorkItem{
			ID:           it.ID,
			Title:        it.Title,
			Description:  it.Description,
			Risk:         RiskLevel(it.Risk),
			Dependencies: it.DependsOn,
			Resources:    it.Resources,
		})
	}
	return p
}
