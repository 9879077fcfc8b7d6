package generic

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// =============================================================================
// ROUTER - Computes AssignedTo for the stage a transition lands on
// =============================================================================

// Router resolves the responsible actor for a stage:
//
//	Reportee   -> the requester's reporting manager
//	HR         -> the unique employee whose department canonicalises to HR
//	Accounts   -> the unique Finance/Accounts employee
//	Management -> the unique Management employee with an executive designation
//
// When no unique match exists the assignment is left empty and the guard
// falls back to role matching.
type Router struct {
	Directory Directory
}

func NewRouter(dir Directory) *Router {
	return &Router{Directory: dir}
}

// Route returns the AssignedTo value for an entity entering status to.
func (r *Router) Route(ctx context.Context, def *Definition, e *Entity, to Status) (string, error) {
	stage, ok := def.StageForStatus(to)
	if !ok || r.Directory == nil {
		return "", nil
	}

	if stage.Stage == StageReportee {
		mgr, err := r.Directory.GetReportee(ctx, e.RequesterRef)
		if err != nil {
			return "", errors.Wrapf(err, "route %s to reporting manager", e.ID)
		}
		if mgr == nil || mgr.ID == e.RequesterRef {
			return "", nil
		}
		return mgr.Ref(), nil
	}

	if stage.Role == OrgRoleNone {
		return "", nil
	}
	candidates, err := r.Directory.FindByRole(ctx, stage.Role)
	if err != nil {
		return "", errors.Wrapf(err, "route %s to %s", e.ID, stage.Role)
	}
	// A requester never approves their own request.
	candidates = lo.Filter(candidates, func(emp Employee, _ int) bool {
		return emp.ID != e.RequesterRef
	})
	if len(candidates) != 1 {
		return "", nil
	}
	return candidates[0].Ref(), nil
}
