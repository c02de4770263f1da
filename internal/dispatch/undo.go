package dispatch

import (
	"context"

	"github.com/ppiankov/skillgate/internal/model"
)

// undoCapability is the audit capability name for refused undo requests,
// which never reach a real capability.
const undoCapability = "undo"

// Undo reverses a recorded action. A successful or failed inverse is
// audited by the inverse invocation itself; refusals (unknown, consumed,
// in progress) are audited here.
func (d *Dispatcher) Undo(ctx context.Context, actionID, actor string) model.Result {
	res := d.ledger.Undo(ctx, actionID, d)
	if isRefusal(res.Reason) {
		return d.refuseUndo(actionID, actor, res)
	}
	return res
}

// UndoLast reverses the newest unconsumed action of capability, or of any
// capability when capability is empty.
func (d *Dispatcher) UndoLast(ctx context.Context, capability, actor string) model.Result {
	e, err := d.ledger.Last(ctx, capability)
	if err != nil {
		reason := model.ReasonOf(err)
		if reason == "" {
			reason = model.ReasonUndoNotFound
		}
		return d.refuseUndo("", actor, model.Result{
			Status: model.StatusDeniedPolicy,
			Reason: reason,
			Detail: err.Error(),
		})
	}
	return d.Undo(ctx, e.ActionID, actor)
}

func (d *Dispatcher) refuseUndo(actionID, actor string, res model.Result) model.Result {
	req := d.normalize(model.Request{
		CapabilityName: undoCapability,
		Arguments:      map[string]any{"action_id": actionID},
		Actor:          actor,
	})
	res.ReversibleActionID = actionID
	return d.finish(req, res, d.policy.Snapshot().Hash)
}

func isRefusal(r model.Reason) bool {
	switch r {
	case model.ReasonUndoNotFound, model.ReasonUndoAlreadyConsumed, model.ReasonUndoInProgress:
		return true
	}
	return false
}
