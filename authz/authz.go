// Package authz decides module-level permissions with casbin. The workflow
// guard consults it for the administrative override: holding "edit" on a
// module (loans, rewards) lets an actor act at any non-terminal stage.
package authz

import (
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/warp/hr-workflow/generic"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

// DefaultPolicies apply when no policy file is configured.
var DefaultPolicies = [][]string{
	{"role:hr_admin", "loans", generic.PermissionEdit},
	{"role:hr_admin", "rewards", generic.PermissionEdit},
	{"role:finance_admin", "loans", generic.PermissionEdit},
	{"role:superadmin", "*", "*"},
}

// Service wraps a casbin enforcer.
type Service struct {
	enforcer *casbin.Enforcer
	log      zerolog.Logger
	mu       sync.RWMutex
}

// New builds the service. With an empty policyPath the DefaultPolicies are
// loaded; otherwise policies come from the CSV file at policyPath.
func New(policyPath string, log zerolog.Logger) (*Service, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, errors.Wrap(err, "authz: parse model")
	}

	var enf *casbin.Enforcer
	if policyPath != "" {
		enf, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enf, err = casbin.NewEnforcer(m)
	}
	if err != nil {
		return nil, errors.Wrap(err, "authz: init enforcer")
	}

	s := &Service{enforcer: enf, log: log.With().Str("component", "authz").Logger()}
	if policyPath == "" {
		for _, p := range DefaultPolicies {
			if err := s.Grant(p[0], p[1], p[2]); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Grant allows subject to perform act on obj.
func (s *Service) Grant(subject, obj, act string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enforcer.AddPolicy(subject, obj, act); err != nil {
		return errors.Wrapf(err, "authz: grant %s %s %s", subject, obj, act)
	}
	return nil
}

// AssignRole makes a user inherit a role's policies.
func (s *Service) AssignRole(userID generic.UserID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enforcer.AddGroupingPolicy(UserSubject(userID), RoleSubject(role)); err != nil {
		return errors.Wrapf(err, "authz: assign %s to %s", role, userID)
	}
	return nil
}

// HasModulePermission implements generic.PermissionChecker. The actor is
// checked both as a user and through its account role.
func (s *Service) HasModulePermission(actor generic.Actor, module, action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make([]string, 0, 2)
	if actor.ID != "" {
		subjects = append(subjects, UserSubject(actor.ID))
	}
	if actor.Role != "" {
		subjects = append(subjects, RoleSubject(actor.Role))
	}
	for _, sub := range subjects {
		ok, err := s.enforcer.Enforce(sub, module, action)
		if err != nil {
			s.log.Warn().Err(err).Str("subject", sub).Str("module", module).Msg("enforce failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func UserSubject(id generic.UserID) string { return "user:" + string(id) }
func RoleSubject(role string) string      { return "role:" + role }

var _ generic.PermissionChecker = (*Service)(nil)
