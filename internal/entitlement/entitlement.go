// Package entitlement maps subscription plans to what a user may do.
package entitlement

import "errors"

type Plan string
type Action string

const (
	PlanFree    Plan = "free"
	PlanPlus    Plan = "plus"
	PlanPremium Plan = "premium"
)

const (
	ActionGenerateEssay    Action = "generate_essay"
	ActionExpand           Action = "expand"
	ActionConcurrentExpand Action = "concurrent_expand"
	ActionDraftHistory     Action = "draft_history"
	ActionImportUpload     Action = "import_upload"
)

// ErrNotEntitled is returned when a plan does not cover an action.
var ErrNotEntitled = errors.New("plan does not allow this action")

func Can(plan Plan, action Action) bool {
	switch plan {
	case PlanPremium, PlanPlus:
		return action == ActionGenerateEssay || action == ActionExpand || action == ActionConcurrentExpand ||
			action == ActionDraftHistory || action == ActionImportUpload
	case PlanFree:
		return action == ActionGenerateEssay || action == ActionExpand || action == ActionImportUpload
	default:
		return false
	}
}

// Parse reads a plan claim. An empty claim is the free plan.
func Parse(plan string) (Plan, bool) {
	switch Plan(plan) {
	case "":
		return PlanFree, true
	case PlanFree, PlanPlus, PlanPremium:
		return Plan(plan), true
	default:
		return "", false
	}
}

// Gate is the usage check consulted before an outline is planned.
type Gate interface {
	CanGenerateEssay(plan Plan) bool
}

// PlanGate allows generation according to Can.
type PlanGate struct{}

func (PlanGate) CanGenerateEssay(plan Plan) bool {
	return Can(plan, ActionGenerateEssay)
}

// GateFunc adapts a function to Gate.
type GateFunc func(plan Plan) bool

func (f GateFunc) CanGenerateEssay(plan Plan) bool { return f(plan) }
