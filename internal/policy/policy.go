// Package policy decides whether an actor may perform an action on a report.
//
// Rules:
//   - read: everyone, authenticated or not
//   - create: any authenticated actor
//   - update, delete: the report owner or an admin
//   - toggleStatus, export: admins only, ownership is irrelevant
//
// Every action other than read requires authentication, and that check runs
// before the ownership and role checks.
package policy

import (
	"seawatch/internal/model"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate       Action = "create"
	ActionRead         Action = "read"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionToggleStatus Action = "toggleStatus"
	ActionExport       Action = "export"
)

type DenyReason string

const (
	ReasonUnauthorized DenyReason = "unauthorized"
	ReasonForbidden    DenyReason = "forbidden"
)

type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Decide evaluates action for an actor against a resource owner. A nil actorID
// means the caller is anonymous; ownerID is ignored for create and read.
func Decide(role model.Role, actorID, ownerID uuid.UUID, action Action) Decision {
	if action == ActionRead {
		return allow
	}
	if actorID == uuid.Nil {
		return deny(ReasonUnauthorized)
	}

	switch action {
	case ActionCreate:
		return allow
	case ActionUpdate, ActionDelete:
		if actorID == ownerID || role == model.RoleAdmin {
			return allow
		}
	case ActionToggleStatus, ActionExport:
		if role == model.RoleAdmin {
			return allow
		}
	}
	return deny(ReasonForbidden)
}

// DecideFor is Decide with the actor unpacked.
func DecideFor(actor model.Actor, ownerID uuid.UUID, action Action) Decision {
	return Decide(actor.Role, actor.ID, ownerID, action)
}
