package statusgraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// pipelineFile is the on-disk shape of a custom pipeline definition
type pipelineFile struct {
	Initial   types.TaskStatus                `yaml:"initial"`
	RoleOrder []types.Role                    `yaml:"role_order"`
	Review    map[types.TaskStatus]ReviewRule `yaml:"review"`
	Dev       map[types.TaskStatus]DevRule    `yaml:"dev"`
}

// LoadFile reads a pipeline definition from a YAML file. This lets a
// deployment extend or replace the review stages without code changes.
//
// Example:
//
//	initial: pending_market_review
//	role_order: [market, architect]
//	review:
//	  pending_market_review:
//	    role: market
//	    on_approve: ready_for_development
//	    on_reject: needs_refinement
//	dev:
//	  ready_for_development:
//	    actors: [developer]
//	    next: [in_progress]
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pipeline file %s: %w", path, err)
	}
	g, err := New(pf.Review, pf.Dev, pf.RoleOrder, pf.Initial)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline in %s: %w", path, err)
	}
	return g, nil
}
