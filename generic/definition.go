/*
definition.go - Per-kind workflow definitions and their registry

PURPOSE:
  A Definition parameterizes the single state machine, guard and timeline
  implementation for one request family. It carries the transition table,
  the ordered stage table used for routing and timeline display, and the
  next-action labels shown on buttons.

HOW IT WORKS:
  1. Domain packages build a Definition for their kind
  2. They register it from init(); registration validates it and panics on error
  3. The engine, API and stores look definitions up by kind or URL slug

USAGE:
  // In loans/types.go
  func init() {
      generic.RegisterDefinition(LoanDefinition())
  }

  def, err := generic.LookupDefinition("loan")

SEE ALSO:
  - machine.go: Executes transitions against a Definition
  - guard.go: Uses Stages to find the role expected at each status
  - loans/types.go, rewards/types.go: Concrete definitions
*/
package generic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind names a request family, e.g. "loan" or "reward".
type Kind string

// Action is a user-facing operation the guard can be asked about.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
)

// AllActions in display order.
var AllActions = []Action{ActionSubmit, ActionApprove, ActionReject, ActionCancel, ActionEdit, ActionDelete}

// =============================================================================
// DEFINITION
// =============================================================================

// StageDef ties a pipeline stage to the status during which it is current
// and to the organisational role expected to act there.
type StageDef struct {
	Stage  Stage
	Status Status
	// Role is OrgRoleNone for the requester and reporting-manager stages.
	Role  OrgRole
	Label string
}

// Edge is one allowed transition out of a status.
type Edge struct {
	To        Status
	AdminOnly bool
}

type SummaryLine struct {
	Label string
	Value string
}

type Definition struct {
	Kind   Kind
	Name   string
	Slug   string // URL segment, e.g. "loans"
	Module string // permission module checked for the admin override

	// Stages in pipeline order. Stages[0] is always the requester at Draft.
	Stages       []StageDef
	Transitions  map[Status][]Edge
	ActionLabels map[Status]string

	CertificateTitle string

	// SubmitCheck runs before Draft -> Pending. Optional.
	SubmitCheck func(ctx context.Context, e *Entity, requester *Employee, now time.Time) error
	// Summarize renders payload lines for certificates and listings. Optional.
	Summarize func(e *Entity) []SummaryLine
}

// Edge returns the edge from -> to if the table allows it.
func (d *Definition) Edge(from, to Status) (Edge, bool) {
	for _, e := range d.Transitions[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Successors lists the statuses reachable in one step from s.
func (d *Definition) Successors(s Status) []Status {
	edges := d.Transitions[s]
	out := make([]Status, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

// Forward returns the next pipeline status after s, if any.
func (d *Definition) Forward(s Status) (Status, bool) {
	for _, e := range d.Transitions[s] {
		if e.To != StatusRejected && e.To != StatusCancelled {
			return e.To, true
		}
	}
	return "", false
}

// StageIndexForStatus returns the index of the stage current at s, or -1.
func (d *Definition) StageIndexForStatus(s Status) int {
	for i, st := range d.Stages {
		if st.Status == s {
			return i
		}
	}
	return -1
}

// StageIndex returns the index of stage, or -1.
func (d *Definition) StageIndex(stage Stage) int {
	for i, st := range d.Stages {
		if st.Stage == stage {
			return i
		}
	}
	return -1
}

// StageForStatus returns the stage definition current at s.
func (d *Definition) StageForStatus(s Status) (StageDef, bool) {
	i := d.StageIndexForStatus(s)
	if i < 0 {
		return StageDef{}, false
	}
	return d.Stages[i], true
}

// ActionFor classifies a transition for the guard.
func (d *Definition) ActionFor(from, to Status) Action {
	switch {
	case to == StatusRejected:
		return ActionReject
	case to == StatusCancelled:
		return ActionCancel
	case from == StatusDraft:
		return ActionSubmit
	default:
		return ActionApprove
	}
}

// NextActionLabel returns the button label for the forward action at s.
// Terminal statuses have no action and return "". A non-terminal status
// without a label is a programming error and panics.
func (d *Definition) NextActionLabel(s Status) string {
	if s.IsTerminal() {
		return ""
	}
	label, ok := d.ActionLabels[s]
	if !ok || label == "" {
		panic(fmt.Sprintf("workflow %s: no action label for status %q", d.Kind, s))
	}
	return label
}

// Validate checks the definition is internally consistent.
func (d *Definition) Validate() error {
	if d.Kind == "" || d.Slug == "" {
		return errors.New("definition needs a kind and a slug")
	}
	if len(d.Stages) < 2 || d.Stages[0].Stage != StageRequester || d.Stages[0].Status != StatusDraft {
		return errors.Newf("%s: first stage must be the requester at Draft", d.Kind)
	}
	seen := map[Status]bool{}
	for _, st := range d.Stages {
		if st.Status.IsTerminal() || !st.Status.Valid() {
			return errors.Newf("%s: stage %s bound to invalid status %q", d.Kind, st.Stage, st.Status)
		}
		if seen[st.Status] {
			return errors.Newf("%s: status %q bound to two stages", d.Kind, st.Status)
		}
		seen[st.Status] = true
	}
	for from, edges := range d.Transitions {
		if from.IsTerminal() && len(edges) > 0 {
			return errors.Newf("%s: terminal status %q has outgoing edges", d.Kind, from)
		}
		if !seen[from] && !from.IsTerminal() {
			return errors.Newf("%s: status %q has edges but no stage", d.Kind, from)
		}
		for _, e := range edges {
			if !e.To.Valid() {
				return errors.Newf("%s: edge %q -> %q targets unknown status", d.Kind, from, e.To)
			}
		}
	}
	for _, st := range d.Stages {
		if label := d.ActionLabels[st.Status]; label == "" {
			return errors.Newf("%s: no action label for status %q", d.Kind, st.Status)
		}
		if _, ok := d.Forward(st.Status); !ok {
			return errors.Newf("%s: status %q has no forward edge", d.Kind, st.Status)
		}
	}
	return nil
}

// =============================================================================
// DEFINITION REGISTRY
// =============================================================================

var (
	definitions = make(map[Kind]*Definition)
	registryMu  sync.RWMutex
)

// RegisterDefinition adds a definition to the global registry.
// Call this from domain package init() functions.
func RegisterDefinition(d *Definition) {
	if err := d.Validate(); err != nil {
		panic(err)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	definitions[d.Kind] = d
}

// LookupDefinition finds a registered definition by kind.
func LookupDefinition(kind Kind) (*Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := definitions[kind]
	if !ok {
		return nil, errors.WithHint(errors.Wrapf(ErrUnknownKind, "kind %q", kind),
			fmt.Sprintf("unknown request type %q", kind))
	}
	return d, nil
}

// LookupDefinitionBySlug resolves the URL segment used by the API.
func LookupDefinitionBySlug(slug string) (*Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, d := range definitions {
		if d.Slug == slug {
			return d, nil
		}
	}
	return nil, errors.WithHint(errors.Wrapf(ErrUnknownKind, "slug %q", slug),
		fmt.Sprintf("unknown request type %q", slug))
}

// MustLookupDefinition finds a registered definition or panics.
// Use in tests or when you're certain the kind exists.
func MustLookupDefinition(kind Kind) *Definition {
	d, err := LookupDefinition(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// ListDefinitions returns all registered definitions sorted by kind.
func ListDefinitions() []*Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Definition, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
