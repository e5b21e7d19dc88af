package verify

import (
	"fmt"

	"github.com/opd-ai/deliverify/netclient"
	"github.com/opd-ai/deliverify/worker"
)

// WorkerView is one worker's snapshot of a conversation.
type WorkerView struct {
	Worker   string
	Snapshot *netclient.Snapshot
	Err      error
}

// ForkCheck compares each worker's view of one conversation. A fork is a
// state divergence between participants' views of the same conversation:
// any mismatch in name, epoch, or membership marks the check forked.
type ForkCheck struct {
	ConversationID string
	Forked         bool
	Views          []WorkerView
}

// AsError converts a forked check into an error, for callers that want to
// abort a run the moment views diverge.
func (fc *ForkCheck) AsError() error {
	if !fc.Forked {
		return nil
	}
	return fmt.Errorf("conversation %s may have forked: views diverge across %d workers", fc.ConversationID, len(fc.Views))
}

// CheckForks snapshots a conversation through every worker and compares
// the views. Workers without a live client, or whose snapshot fails, are
// recorded and skipped; they do not mark the conversation forked.
func CheckForks(workers []*worker.Worker, conversationID string) *ForkCheck {
	check := &ForkCheck{ConversationID: conversationID}

	var reference *netclient.Snapshot
	for _, w := range workers {
		client := w.Client()
		if client == nil {
			check.Views = append(check.Views, WorkerView{Worker: w.Name, Err: ErrNoClient})
			continue
		}

		snapshot, err := client.ConversationSnapshot(conversationID)
		view := WorkerView{Worker: w.Name, Snapshot: snapshot, Err: err}
		check.Views = append(check.Views, view)
		if err != nil {
			continue
		}

		if reference == nil {
			reference = snapshot
			continue
		}
		if !snapshotsEqual(reference, snapshot) {
			check.Forked = true
		}
	}
	return check
}

func snapshotsEqual(a, b *netclient.Snapshot) bool {
	if a.Name != b.Name || a.Epoch != b.Epoch || len(a.MemberInboxIDs) != len(b.MemberInboxIDs) {
		return false
	}
	for i, inboxID := range a.MemberInboxIDs {
		if b.MemberInboxIDs[i] != inboxID {
			return false
		}
	}
	return true
}
