// Package scope resolves which submissions an actor may see or mutate.
package scope

import (
	"errors"
	"fmt"
)

type Role string
type Capability string
type Kind string

const (
	RoleAdmin        Role = "Admin"
	RoleFederalLead  Role = "Federal Lead"
	RoleCurator      Role = "Data Curator"
	RoleCommonsPOC   Role = "Data Commons Personnel"
	RoleOrgOwner     Role = "Organization Owner"
	RoleSubmitter    Role = "Submitter"
	RoleUser         Role = "User"
)

const (
	CapView          Capability = "data_submission:view"
	CapCreate        Capability = "data_submission:create"
	CapReview        Capability = "data_submission:review"
	CapConfirm       Capability = "data_submission:confirm"
	CapCancel        Capability = "data_submission:cancel"
	CapValidate      Capability = "data_submission:validate"
	CapCollaborators Capability = "data_submission:manage_collaborators"
)

const (
	ScopeAll         Kind = "ALL"
	ScopeDataCommons Kind = "DATA_COMMONS"
	ScopeStudy       Kind = "STUDY"
	ScopeOwn         Kind = "OWN"
	ScopeNone        Kind = "NONE"
)

// StudyAll is the sentinel study assignment meaning "every study". It lifts
// the study restriction for OWN scope but not the ownership filter.
const StudyAll = "All"

var (
	ErrNoGrant   = errors.New("no permission grant for capability")
	ErrNoStudies = errors.New("actor has no study assignment")
)

// Actor is the authorization context passed into every call. Credential and
// session handling happen upstream; by the time a request reaches this core
// the actor is already authenticated.
type Actor struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Role             Role     `json:"role"`
	OrganizationID   string   `json:"organizationID"`
	OrganizationName string   `json:"organizationName"`
	Studies          []string `json:"studies"`
	DataCommons      []string `json:"dataCommons"`
	Notifications    []string `json:"notifications"`
}

// HasAllStudies reports whether the actor's assignment contains the sentinel.
func (a Actor) HasAllStudies() bool {
	for _, study := range a.Studies {
		if study == StudyAll {
			return true
		}
	}
	return false
}

// UserScope is the resolved access descriptor for one (actor, capability) pair.
type UserScope struct {
	Kind   Kind
	Values []string
}

// Grant maps a capability held by a role to the scope kind it confers.
type Grant struct {
	Capability Capability
	Scope      Kind
}

// Policy is the injected permission table: which grants each role holds.
// Alternate tables are substitutable in tests; there is no package-level state.
type Policy map[Role][]Grant

// DefaultPolicy returns the production permission table.
func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin: {
			{CapView, ScopeAll}, {CapCreate, ScopeAll}, {CapReview, ScopeAll},
			{CapConfirm, ScopeAll}, {CapCancel, ScopeAll}, {CapValidate, ScopeAll},
			{CapCollaborators, ScopeAll},
		},
		RoleFederalLead: {
			{CapView, ScopeAll}, {CapReview, ScopeAll}, {CapConfirm, ScopeAll},
		},
		RoleCurator: {
			{CapView, ScopeAll}, {CapReview, ScopeAll}, {CapValidate, ScopeAll},
		},
		RoleCommonsPOC: {
			{CapView, ScopeDataCommons}, {CapReview, ScopeDataCommons},
			{CapValidate, ScopeDataCommons},
		},
		RoleOrgOwner: {
			{CapView, ScopeStudy}, {CapCancel, ScopeStudy},
		},
		RoleSubmitter: {
			{CapView, ScopeOwn}, {CapCreate, ScopeOwn}, {CapCancel, ScopeOwn},
			{CapValidate, ScopeOwn}, {CapCollaborators, ScopeOwn},
		},
		RoleUser: nil,
	}
}

// Resolver maps (actor, capability) to a UserScope using an injected policy
// and a permission graph of "requires" relations. A capability reachable from
// a held grant is itself held, at the same scope as the grant it descends from.
type Resolver struct {
	policy Policy
	graph  *Graph
}

func NewResolver(policy Policy, graph *Graph) (*Resolver, error) {
	if graph == nil {
		graph = DefaultGraph()
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("permission graph: %w", err)
	}
	return &Resolver{policy: policy, graph: graph}, nil
}

// Resolve computes the actor's scope for one capability.
//
// It fails with ErrNoGrant when no held grant covers the capability, and with
// ErrNoStudies when the resolved scope is OWN but the actor has no study
// assignment at all. An assignment containing only the StudyAll sentinel is a
// valid assignment, not an absent one; callers must not conflate the two.
func (r *Resolver) Resolve(actor Actor, capability Capability) (UserScope, error) {
	best := ScopeNone
	for _, grant := range r.policy[actor.Role] {
		if grant.Capability != capability && !r.graph.Reaches(grant.Capability, capability) {
			continue
		}
		if wider(grant.Scope, best) {
			best = grant.Scope
		}
	}
	if best == ScopeNone {
		return UserScope{Kind: ScopeNone}, ErrNoGrant
	}

	switch best {
	case ScopeAll:
		return UserScope{Kind: ScopeAll}, nil
	case ScopeDataCommons:
		return UserScope{Kind: ScopeDataCommons, Values: actor.DataCommons}, nil
	case ScopeStudy:
		return UserScope{Kind: ScopeStudy, Values: actor.Studies}, nil
	case ScopeOwn:
		if len(actor.Studies) == 0 {
			return UserScope{Kind: ScopeNone}, ErrNoStudies
		}
		return UserScope{Kind: ScopeOwn, Values: actor.Studies}, nil
	default:
		return UserScope{Kind: ScopeNone}, ErrNoGrant
	}
}

// scope kinds ordered from widest to narrowest
var kindRank = map[Kind]int{
	ScopeAll:         4,
	ScopeDataCommons: 3,
	ScopeStudy:       2,
	ScopeOwn:         1,
	ScopeNone:        0,
}

func wider(a, b Kind) bool {
	return kindRank[a] > kindRank[b]
}
