package draftuplink

import (
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/model"
)

func TestCompositeIDForPrefersFreshRemoteUID(t *testing.T) {
	fresh := uint32(9)
	stale := uint32(3)
	got := compositeIDFor(&fresh, model.DraftStaging{RemoteUID: &stale})
	if got != model.CompositeID(9, model.FolderDrafts) {
		t.Fatalf("got %q, want the fresh uid's composite id", got)
	}
}

func TestCompositeIDForFallsBackToStagedRemoteUID(t *testing.T) {
	stale := uint32(3)
	got := compositeIDFor(nil, model.DraftStaging{RemoteUID: &stale})
	if got != model.CompositeID(3, model.FolderDrafts) {
		t.Fatalf("got %q, want the staged uid's composite id", got)
	}
}
