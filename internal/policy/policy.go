// Package policy defines the PolicyGate external interface contract
// (spec.md §2 C2, §6) and a default RBAC implementation.
//
// Grounded in the original_source security_manager.hpp's
// can_submit_task/can_cancel_task/can_view_task role-permission model, and
// in the teacher's auth.Claims/auth.ValidateToken HMAC token shape
// (control_plane/auth/jwt.go) for the Verifier below. Cryptographic
// primitives themselves (SecureMessaging's encrypt/sign in the original)
// stay out of scope per spec.md §1.
package policy

import (
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// Action identifies the kind of operation being authorized.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionCancel Action = "cancel"
	ActionView   Action = "view"
)

// Gate is the binary authorization decision the Scheduler Core consults
// for submit/cancel/view actions (spec.md C2). resource is the task type
// for Submit, and the task itself for Cancel/View (so ownership can be
// evaluated, resolving spec.md §9's Open Question about the original's
// always-true can_cancel_task(ctx, "own") branch).
type Gate interface {
	Authorize(principal *taskmodel.Principal, action Action, resource Resource) bool
}

// Resource carries the subset of task state a Gate needs to decide an
// action. For ActionSubmit, only TaskType is populated.
type Resource struct {
	TaskType    string
	TaskID      string
	SubmittedBy string
}

// Verifier turns an opaque token into a Principal, per spec.md §6
// ("the core does not parse it; it calls PolicyGate.verify(token)").
// Grounded in original_source's jwt_traits_adapter.hpp: a pluggable
// adapter so a deployment can swap the default HMAC verifier for an
// external IdP's.
type Verifier interface {
	Verify(token string) (*taskmodel.Principal, error)
}
