// Package authz is the single authorization policy of the ledger: every
// handler asks Authorize(actor, resource, action) instead of branching on
// roles itself.
package authz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrForbidden is returned by Result.Err for denied checks.
var ErrForbidden = errors.New("forbidden")

// Role is a caller's role as asserted by the upstream authenticator.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleCompanyAdmin Role = "company_admin"
	RoleOperator     Role = "operator"
)

// Action is something a caller wants to do.
type Action string

const (
	ActionTransferCreate     Action = "transfer:create"
	ActionTransferCancel     Action = "transfer:cancel"
	ActionTransferRetry      Action = "transfer:retry"
	ActionTransactionRead    Action = "transaction:read"
	ActionAccountManage      Action = "account:manage"
	ActionReconciliationRun  Action = "reconciliation:run"
	ActionReconciliationRead Action = "reconciliation:read"
)

// Actor is an authenticated caller.
type Actor struct {
	UserID    string
	Role      Role
	CompanyID *uuid.UUID
}

// Resource is what an action targets. A nil CompanyID marks a ledger-wide
// resource, such as reconciliation runs.
type Resource struct {
	CompanyID *uuid.UUID
	OwnerID   string // user who created the resource, if any
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason describes why a check was denied.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	ReasonUnauthenticated
	ReasonUnknownRole
	ReasonActionNotGranted
	ReasonOtherCompany
	ReasonNotOwner
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnauthenticated:
		return "no authenticated actor"
	case ReasonUnknownRole:
		return "unknown role"
	case ReasonActionNotGranted:
		return "role does not grant action"
	case ReasonOtherCompany:
		return "resource belongs to another company"
	case ReasonNotOwner:
		return "resource belongs to another user"
	default:
		return "unknown"
	}
}

// Result is a decision with the reason for a denial.
type Result struct {
	Decision Decision
	Reason   DenyReason
}

// Allowed reports whether the check passed.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// Err returns nil when allowed and an ErrForbidden wrap otherwise.
func (r Result) Err() error {
	if r.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, r.Reason)
}

// scope narrows a granted action.
type scope int

const (
	scopeAny     scope = iota // any resource
	scopeCompany              // resources of the actor's company
	scopeOwn                  // resources of the actor's company the actor created
)

// grants lists, per role, the actions it may perform and how far they reach.
var grants = map[Role]map[Action]scope{
	RoleSuperAdmin: {
		ActionTransferCreate:     scopeAny,
		ActionTransferCancel:     scopeAny,
		ActionTransferRetry:      scopeAny,
		ActionTransactionRead:    scopeAny,
		ActionAccountManage:      scopeAny,
		ActionReconciliationRun:  scopeAny,
		ActionReconciliationRead: scopeAny,
	},
	RoleCompanyAdmin: {
		ActionTransferCreate:  scopeCompany,
		ActionTransferCancel:  scopeCompany,
		ActionTransferRetry:   scopeCompany,
		ActionTransactionRead: scopeCompany,
		ActionAccountManage:   scopeCompany,
	},
	RoleOperator: {
		ActionTransferCreate:  scopeCompany,
		ActionTransferCancel:  scopeOwn,
		ActionTransferRetry:   scopeOwn,
		ActionTransactionRead: scopeCompany,
	},
}

// Authorize decides whether actor may perform action on resource.
func Authorize(actor Actor, resource Resource, action Action) Result {
	if actor.UserID == "" {
		return deny(ReasonUnauthenticated)
	}

	actions, ok := grants[actor.Role]
	if !ok {
		return deny(ReasonUnknownRole)
	}

	s, ok := actions[action]
	if !ok {
		return deny(ReasonActionNotGranted)
	}

	switch s {
	case scopeAny:
		return Result{Decision: Allow}
	case scopeCompany, scopeOwn:
		if actor.CompanyID == nil || resource.CompanyID == nil || *actor.CompanyID != *resource.CompanyID {
			return deny(ReasonOtherCompany)
		}
		if s == scopeOwn && resource.OwnerID != actor.UserID {
			return deny(ReasonNotOwner)
		}
		return Result{Decision: Allow}
	}
	return deny(ReasonActionNotGranted)
}

// IsGlobal reports whether actor sees every company.
func (a Actor) IsGlobal() bool {
	return a.Role == RoleSuperAdmin
}

func deny(reason DenyReason) Result {
	return Result{Decision: Deny, Reason: reason}
}
