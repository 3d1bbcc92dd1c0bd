package statusgraph

import "github.com/stagehand-io/stagehand/pkg/types"

// Default returns the built-in feature pipeline: four stakeholder review
// stages followed by the development flow. Rejection at any review stage
// lands in needs_refinement; rejection at code review or QA lands in
// needs_changes.
func Default() *Graph {
	review := map[types.TaskStatus]ReviewRule{
		types.StatusPendingMarketReview: {
			ExpectedRole: types.RoleMarket,
			OnApprove:    types.StatusPendingArchitectureReview,
			OnReject:     types.StatusNeedsRefinement,
		},
		types.StatusPendingArchitectureReview: {
			ExpectedRole: types.RoleArchitect,
			OnApprove:    types.StatusPendingUXReview,
			OnReject:     types.StatusNeedsRefinement,
		},
		types.StatusPendingUXReview: {
			ExpectedRole: types.RoleUX,
			OnApprove:    types.StatusPendingSecurityReview,
			OnReject:     types.StatusNeedsRefinement,
		},
		types.StatusPendingSecurityReview: {
			ExpectedRole: types.RoleSecurity,
			OnApprove:    types.StatusReadyForDevelopment,
			OnReject:     types.StatusNeedsRefinement,
		},
	}

	dev := map[types.TaskStatus]DevRule{
		types.StatusReadyForDevelopment: {
			AllowedActors: []types.Role{types.RoleDeveloper, types.RoleTechLead},
			AllowedNext:   []types.TaskStatus{types.StatusToDo, types.StatusInProgress},
		},
		types.StatusToDo: {
			AllowedActors: []types.Role{types.RoleDeveloper, types.RoleTechLead},
			AllowedNext:   []types.TaskStatus{types.StatusInProgress},
		},
		types.StatusInProgress: {
			AllowedActors: []types.Role{types.RoleDeveloper},
			AllowedNext:   []types.TaskStatus{types.StatusInReview},
		},
		types.StatusInReview: {
			AllowedActors: []types.Role{types.RoleTechLead},
			AllowedNext:   []types.TaskStatus{types.StatusInQA, types.StatusNeedsChanges},
		},
		types.StatusInQA: {
			AllowedActors: []types.Role{types.RoleQA},
			AllowedNext:   []types.TaskStatus{types.StatusDone, types.StatusNeedsChanges},
		},
		types.StatusNeedsChanges: {
			AllowedActors: []types.Role{types.RoleDeveloper},
			AllowedNext:   []types.TaskStatus{types.StatusInProgress},
		},
		types.StatusNeedsRefinement: {
			AllowedActors: []types.Role{types.RoleMarket},
			AllowedNext:   []types.TaskStatus{types.StatusPendingMarketReview},
		},
		// done has no entry: terminal
	}

	roleOrder := []types.Role{
		types.RoleMarket,
		types.RoleArchitect,
		types.RoleUX,
		types.RoleSecurity,
	}

	g, err := New(review, dev, roleOrder, types.StatusPendingMarketReview)
	if err != nil {
		// The built-in tables are validated by tests; a construction error
		// here is a programming mistake, not a runtime condition.
		panic(err)
	}
	return g
}
