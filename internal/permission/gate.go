// Package permission decides whether a controller may invoke an action under
// a relationship. It never touches storage.
package permission

import (
	"github.com/openclaw/link-server-go/internal/model"
)

type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonRelationshipInactive Reason = "RELATIONSHIP_INACTIVE"
	ReasonPermissionDisabled   Reason = "PERMISSION_DISABLED"
	ReasonUnknownAction        Reason = "UNKNOWN_ACTION"
)

type Decision struct {
	Allowed  bool                 `json:"allowed"`
	Action   model.Action         `json:"action"`
	Category model.ActionCategory `json:"category,omitempty"`
	Reason   Reason               `json:"reason,omitempty"`
}

// Authorize maps action to its permission flag on rel. A terminated (or nil)
// relationship denies everything regardless of flags.
func Authorize(rel *model.Relationship, action model.Action) Decision {
	d := Decision{Action: action, Category: action.Category()}

	if rel == nil || !rel.IsActive() {
		d.Reason = ReasonRelationshipInactive
		return d
	}

	allowed, known := rel.Permissions.Allows(action)
	if !known {
		d.Reason = ReasonUnknownAction
		return d
	}
	if !allowed {
		d.Reason = ReasonPermissionDisabled
		return d
	}

	d.Allowed = true
	return d
}
