// Package statusgraph defines the legal status transitions of the pipeline
// as data. The graph is built once and treated as immutable configuration;
// validators receive it at construction rather than reading package state,
// so alternate pipelines can be substituted.
package statusgraph

import (
	"fmt"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// ReviewRule describes the single legal review transition out of a stage
type ReviewRule struct {
	ExpectedRole types.Role       `yaml:"role"`
	OnApprove    types.TaskStatus `yaml:"on_approve"`
	OnReject     types.TaskStatus `yaml:"on_reject"`
}

// DevRule describes the legal development transitions out of a status
type DevRule struct {
	AllowedActors []types.Role       `yaml:"actors"`
	AllowedNext   []types.TaskStatus `yaml:"next"`
}

// Graph holds the two independent rule tables plus the fixed role ordering
// of the review phase. Terminal statuses simply have no rule entry.
type Graph struct {
	reviewRules map[types.TaskStatus]ReviewRule
	devRules    map[types.TaskStatus]DevRule
	roleOrder   []types.Role
	initial     types.TaskStatus
}

// New builds a graph from rule tables. The maps are copied so later
// mutation of the arguments cannot alter the graph.
func New(review map[types.TaskStatus]ReviewRule, dev map[types.TaskStatus]DevRule, roleOrder []types.Role, initial types.TaskStatus) (*Graph, error) {
	if initial == "" {
		return nil, fmt.Errorf("statusgraph: initial status is required")
	}
	g := &Graph{
		reviewRules: make(map[types.TaskStatus]ReviewRule, len(review)),
		devRules:    make(map[types.TaskStatus]DevRule, len(dev)),
		roleOrder:   append([]types.Role(nil), roleOrder...),
		initial:     initial,
	}
	for status, rule := range review {
		if rule.ExpectedRole == "" {
			return nil, fmt.Errorf("statusgraph: review rule for %s has no role", status)
		}
		if rule.OnApprove == "" || rule.OnReject == "" {
			return nil, fmt.Errorf("statusgraph: review rule for %s is incomplete", status)
		}
		g.reviewRules[status] = rule
	}
	for status, rule := range dev {
		if len(rule.AllowedActors) == 0 || len(rule.AllowedNext) == 0 {
			return nil, fmt.Errorf("statusgraph: dev rule for %s is incomplete", status)
		}
		g.devRules[status] = DevRule{
			AllowedActors: append([]types.Role(nil), rule.AllowedActors...),
			AllowedNext:   append([]types.TaskStatus(nil), rule.AllowedNext...),
		}
	}
	return g, nil
}

// InitialStatus returns the status new tasks enter the pipeline with
func (g *Graph) InitialStatus() types.TaskStatus { return g.initial }

// RoleOrder returns the review roles in pipeline order
func (g *Graph) RoleOrder() []types.Role {
	return append([]types.Role(nil), g.roleOrder...)
}

// ReviewRule returns the review rule for a status, if one exists
func (g *Graph) ReviewRule(status types.TaskStatus) (ReviewRule, bool) {
	rule, ok := g.reviewRules[status]
	return rule, ok
}

// DevRule returns the dev rule for a status, if one exists
func (g *Graph) DevRule(status types.TaskStatus) (DevRule, bool) {
	rule, ok := g.devRules[status]
	return rule, ok
}

// AllowsActor reports whether the rule permits the given actor
func (r DevRule) AllowsActor(actor types.Role) bool {
	for _, a := range r.AllowedActors {
		if a == actor {
			return true
		}
	}
	return false
}

// AllowsNext reports whether the rule permits a move to the given status
func (r DevRule) AllowsNext(to types.TaskStatus) bool {
	for _, s := range r.AllowedNext {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no actor can transition the status further
func (g *Graph) IsTerminal(status types.TaskStatus) bool {
	_, hasReview := g.reviewRules[status]
	_, hasDev := g.devRules[status]
	return !hasReview && !hasDev
}
