package drift

import (
	"time"

	"github.com/nopea-io/nopea/internal/reconcile"
)

// BreakGlassAnnotation suspends healing for a single resource when set to
// "true" on the live object.
const BreakGlassAnnotation = "nopea.io/suspend-heal"

// Action is what the engine decided to do with a classified resource.
type Action string

const (
	ActionHealed  Action = "healed"
	ActionSkipped Action = "skipped"
)

// ArbitrationInput bundles everything Arbitrate needs to decide whether to
// re-apply a classified resource now.
type ArbitrationInput struct {
	Classification  Classification
	HealPolicy      reconcile.HealPolicy
	BreakGlass      bool
	GracePeriod     *time.Duration
	DriftFirstSeen  *time.Time // nil if this is the first sighting
	Now             time.Time
}

// ArbitrationResult is the engine's decision plus any grace-period
// bookkeeping the caller (the Worker, via the StateStore) must persist.
type ArbitrationResult struct {
	Action             Action
	RecordFirstSeenNow bool // caller should StateStore.record_drift_first_seen
	ClearFirstSeen     bool // caller should clear drift_first_seen
}

// Arbitrate implements the heal-policy arbitration table of spec.md §4.4.
func Arbitrate(in ArbitrationInput) ArbitrationResult {
	switch in.Classification {
	case NoDrift:
		return ArbitrationResult{Action: ActionSkipped, ClearFirstSeen: true}

	case NewResource, NeedsApply:
		return ArbitrationResult{Action: ActionHealed, ClearFirstSeen: true}

	case GitChange:
		if in.BreakGlass {
			return ArbitrationResult{Action: ActionSkipped}
		}
		return ArbitrationResult{Action: ActionHealed, ClearFirstSeen: true}

	case ManualDrift, Conflict:
		if in.BreakGlass {
			return ArbitrationResult{Action: ActionSkipped}
		}
		if in.HealPolicy != reconcile.HealPolicyAuto {
			return ArbitrationResult{Action: ActionSkipped}
		}

		firstSeen := in.Now
		recordNow := in.DriftFirstSeen == nil
		if in.DriftFirstSeen != nil {
			firstSeen = *in.DriftFirstSeen
		}

		if in.GracePeriod == nil || in.Now.Sub(firstSeen) >= *in.GracePeriod {
			return ArbitrationResult{Action: ActionHealed, RecordFirstSeenNow: recordNow, ClearFirstSeen: true}
		}
		return ArbitrationResult{Action: ActionSkipped, RecordFirstSeenNow: recordNow}

	default:
		return ArbitrationResult{Action: ActionSkipped}
	}
}
