package generic

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// ACTOR - The acting principal, passed explicitly into every decision
// =============================================================================

type Actor struct {
	ID          UserID
	Role        string // account role from the session, e.g. "employee", "admin"
	IsAdmin     bool
	Department  string
	Designation string
	OrgRole     OrgRole
	EmployeeRef EmployeeID
	Email       string
}

// Matches reports whether ref names this actor as a user or as an employee.
func (a Actor) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return (a.ID != "" && ref == string(a.ID)) ||
		(a.EmployeeRef != "" && ref == string(a.EmployeeRef))
}

// SystemActor is used by background jobs. It never passes the guard.
var SystemActor = Actor{ID: "system", Role: "system"}

// Session is the raw identity supplied by the session provider.
type Session struct {
	UserID  UserID
	Role    string
	IsAdmin bool
	Email   string
}

// =============================================================================
// ACTOR RESOLVER
// =============================================================================

// ActorResolver links a session to its employee record and canonicalises the
// organisational role.
type ActorResolver struct {
	Directory Directory
}

func NewActorResolver(dir Directory) *ActorResolver {
	return &ActorResolver{Directory: dir}
}

// Resolve builds the Actor for a session. A session without an employee
// record resolves to an actor with no department; that is not an error.
func (r *ActorResolver) Resolve(ctx context.Context, s Session) (Actor, error) {
	if s.UserID == "" {
		return Actor{}, errors.WithHint(ErrUnauthorized, "no authenticated user")
	}
	actor := Actor{
		ID:      s.UserID,
		Role:    s.Role,
		IsAdmin: s.IsAdmin || strings.EqualFold(s.Role, "admin"),
		Email:   strings.TrimSpace(s.Email),
	}

	emp, err := r.Directory.FindByUserID(ctx, s.UserID)
	if err != nil {
		return Actor{}, errors.Wrapf(err, "resolve employee for user %s", s.UserID)
	}
	if emp == nil && actor.Email != "" {
		emp, err = r.Directory.FindByEmail(ctx, actor.Email)
		if err != nil {
			return Actor{}, errors.Wrapf(err, "resolve employee for email %s", actor.Email)
		}
	}
	if emp == nil {
		return actor, nil
	}

	actor.EmployeeRef = emp.ID
	actor.Department = emp.Department
	actor.Designation = emp.Designation
	actor.OrgRole = CanonicalRole(emp.Department, emp.Designation)
	if actor.Email == "" {
		actor.Email = emp.Email
	}
	return actor, nil
}

// ActorFromEmployee builds the actor an employee would be when signed in.
// Used to assert that a routed assignee is entitled to act.
func ActorFromEmployee(emp *Employee) Actor {
	return Actor{
		ID:          emp.UserID,
		Role:        "employee",
		Department:  emp.Department,
		Designation: emp.Designation,
		OrgRole:     CanonicalRole(emp.Department, emp.Designation),
		EmployeeRef: emp.ID,
		Email:       emp.Email,
	}
}
