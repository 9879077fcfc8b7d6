/*
guard.go - Authorization rules for acting on a workflow entity

EVALUATION ORDER (first match wins):
  1. Terminal status           -> nobody
  2. Admin or module edit right -> allowed
  3. Draft                      -> the requester only
  4. AssignedTo set             -> that actor only, plus the reporting-manager
                                   email fallback on the first approval stage
  5. Unassigned                 -> org role of the current stage, plus the
                                   reporting-manager email on the first stage,
                                   never the requester
  6. Otherwise                  -> denied

The rules overlap, so the order matters: a requester who is also in HR must
not pass rule 5 on their own Draft.
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// PermissionChecker answers whether an actor holds a named permission on a
// module. The authz package provides a casbin-backed implementation.
type PermissionChecker interface {
	HasModulePermission(actor Actor, module, action string) bool
}

// PermissionEdit is the module permission that grants the admin override.
const PermissionEdit = "edit"

type Guard struct {
	Permissions PermissionChecker
}

func NewGuard(permissions PermissionChecker) *Guard {
	return &Guard{Permissions: permissions}
}

// CanAct reports whether a may move e along any of its edges.
func (g *Guard) CanAct(def *Definition, e *Entity, a Actor) bool {
	ok, _ := g.decide(def, e, a)
	return ok
}

// IsAdmin reports whether rule 2 applies to a for this kind.
func (g *Guard) IsAdmin(def *Definition, a Actor) bool {
	if a.IsAdmin {
		return true
	}
	return g.Permissions != nil && g.Permissions.HasModulePermission(a, def.Module, PermissionEdit)
}

func (g *Guard) decide(def *Definition, e *Entity, a Actor) (bool, string) {
	if e.Status.IsTerminal() {
		return false, fmt.Sprintf("request is already %s", strings.ToLower(string(e.Status)))
	}
	if g.IsAdmin(def, a) {
		return true, ""
	}
	if e.Status == StatusDraft {
		if e.IsRequester(a) {
			return true, ""
		}
		return false, "only the requester can act on a draft"
	}

	firstStage := len(def.Stages) > 1 && def.Stages[1].Status == e.Status
	if e.AssignedTo != "" {
		if a.Matches(e.AssignedTo) {
			return true, ""
		}
		if firstStage && managerEmailMatches(e, a) {
			return true, ""
		}
		return false, "request is assigned to another approver"
	}

	if e.IsRequester(a) {
		return false, "you cannot approve your own request"
	}
	if stage, ok := def.StageForStatus(e.Status); ok && stage.Role != OrgRoleNone && a.OrgRole == stage.Role {
		return true, ""
	}
	if firstStage && managerEmailMatches(e, a) {
		return true, ""
	}
	return false, fmt.Sprintf("you are not an approver for %s", strings.ToLower(string(e.Status)))
}

func managerEmailMatches(e *Entity, a Actor) bool {
	return e.ManagerEmail != "" && a.Email != "" && strings.EqualFold(e.ManagerEmail, a.Email)
}

// CanView reports whether a may read e, its timeline, audit trail and
// certificate: administrators, the requester, whoever can act on it now and
// anyone recorded on one of its steps.
func (g *Guard) CanView(def *Definition, e *Entity, a Actor) bool {
	if g.IsAdmin(def, a) || e.IsRequester(a) {
		return true
	}
	for _, step := range e.History {
		if a.Matches(step.ActorRef) {
			return true
		}
	}
	return g.CanAct(def, e, a)
}

// CanPerform answers the finer-grained question behind each UI affordance.
func (g *Guard) CanPerform(def *Definition, e *Entity, a Actor, action Action) bool {
	return g.check(def, e, a, action) == ""
}

// Permit returns nil when a may perform action, otherwise an Unauthorized
// error whose hint is the reason shown to the user.
func (g *Guard) Permit(def *Definition, e *Entity, a Actor, action Action) error {
	reason := g.check(def, e, a, action)
	if reason == "" {
		return nil
	}
	return errors.WithHint(errors.Wrapf(ErrUnauthorized, "%s %s %s", action, e.Kind, e.ID), reason)
}

// check returns "" when allowed, otherwise the reason for refusal.
func (g *Guard) check(def *Definition, e *Entity, a Actor, action Action) string {
	admin := g.IsAdmin(def, a)
	switch action {
	case ActionDelete:
		if admin || (e.IsRequester(a) && !e.Status.IsTerminal()) {
			return ""
		}
		return "only the requester or an administrator can delete this request"
	case ActionEdit:
		if e.Status != StatusDraft {
			return "only drafts can be edited"
		}
		if admin || e.IsRequester(a) {
			return ""
		}
		return "only the requester can edit this draft"
	}

	ok, reason := g.decide(def, e, a)
	if !ok {
		return reason
	}

	switch action {
	case ActionSubmit:
		if e.Status != StatusDraft {
			return "request has already been submitted"
		}
	case ActionApprove:
		if e.Status == StatusDraft {
			return "a draft must be submitted before approval"
		}
		if _, ok := def.Forward(e.Status); !ok {
			return "nothing left to approve"
		}
	case ActionReject:
		edge, ok := def.Edge(e.Status, StatusRejected)
		if !ok {
			return fmt.Sprintf("a %s request cannot be rejected", strings.ToLower(string(e.Status)))
		}
		if (edge.AdminOnly || e.Status == StatusDraft) && !admin {
			return "only an administrator can reject at this stage"
		}
	case ActionCancel:
		edge, ok := def.Edge(e.Status, StatusCancelled)
		if !ok {
			return fmt.Sprintf("a %s request cannot be cancelled", strings.ToLower(string(e.Status)))
		}
		if edge.AdminOnly && !admin {
			return "only an administrator can cancel a submitted request"
		}
	}
	return ""
}

// Authorize is the guard check the state machine runs before a transition.
func (g *Guard) Authorize(def *Definition, e *Entity, a Actor, to Status) error {
	reason := g.check(def, e, a, def.ActionFor(e.Status, to))
	if reason == "" {
		return nil
	}
	return &TransitionError{
		Code:     CodeUnauthorized,
		Reason:   reason,
		EntityID: e.ID,
		Kind:     e.Kind,
		From:     e.Status,
		To:       to,
	}
}

// ActionSet is the per-action answer for one actor on one entity.
type ActionSet struct {
	NextActionLabel string
	NextStatus      Status
	Allowed         map[Action]bool
}

// Actions evaluates every action for a.
func (g *Guard) Actions(def *Definition, e *Entity, a Actor) ActionSet {
	set := ActionSet{
		NextActionLabel: def.NextActionLabel(e.Status),
		Allowed:         make(map[Action]bool, len(AllActions)),
	}
	if next, ok := def.Forward(e.Status); ok {
		set.NextStatus = next
	}
	for _, action := range AllActions {
		set.Allowed[action] = g.CanPerform(def, e, a, action)
	}
	return set
}
