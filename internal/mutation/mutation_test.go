package mutation_test

import (
	"context"
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/mutation"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

func newExecutor(t *testing.T) (*mutation.Executor, *storage.Store) {
	t.Helper()
	s, err := storage.Open("file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return mutation.New(s, cache.New(), session.New(), nil), s
}

func seedMessage(t *testing.T, s *storage.Store, id string, uid uint32, folder, from string) model.Message {
	t.Helper()
	msg := model.Message{
		ID: id, UID: uid, User: "u1", Folder: folder, Timestamp: 1000,
		From: from, Subject: "hi",
	}
	if err := s.UpsertEnvelope(context.Background(), msg); err != nil {
		t.Fatalf("seed UpsertEnvelope: %v", err)
	}
	return msg
}

func TestSetReadUpdatesLocalState(t *testing.T) {
	ex, s := newExecutor(t)
	id := model.CompositeID(1, model.FolderInbox)
	seedMessage(t, s, id, 1, model.FolderInbox, "a@b.com")

	if err := ex.SetRead(context.Background(), "u1", id, true); err != nil {
		t.Fatalf("SetRead: %v", err)
	}
	got, err := s.GetByID(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Read {
		t.Fatal("expected Read=true after SetRead")
	}
}

func TestSetReadRejectsMalformedID(t *testing.T) {
	ex, _ := newExecutor(t)
	err := ex.SetRead(context.Background(), "u1", "not-a-composite-id", true)
	var ve *bridgeerr.ValidationError
	if err == nil {
		t.Fatal("expected an error for a malformed id")
	}
	if !asValidationError(err, &ve) {
		t.Fatalf("got %v, want *bridgeerr.ValidationError", err)
	}
}

func TestMoveToFolderUpdatesLocalFolder(t *testing.T) {
	ex, s := newExecutor(t)
	id := model.CompositeID(7, model.FolderInbox)
	seedMessage(t, s, id, 7, model.FolderInbox, "a@b.com")

	if err := ex.MoveToFolder(context.Background(), "u1", id, model.FolderTrash); err != nil {
		t.Fatalf("MoveToFolder: %v", err)
	}
	got, err := s.GetByID(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Folder != model.FolderTrash {
		t.Fatalf("got folder %q, want %q", got.Folder, model.FolderTrash)
	}
	// the composite id itself still names the source folder until the
	// next full sync reconciles it (documented staleness window).
	if got.ID != id {
		t.Fatalf("id should not change on move: got %q, want %q", got.ID, id)
	}
}

func TestDeleteFromInboxMovesToTrashInstead(t *testing.T) {
	ex, s := newExecutor(t)
	id := model.CompositeID(2, model.FolderInbox)
	seedMessage(t, s, id, 2, model.FolderInbox, "a@b.com")

	if err := ex.Delete(context.Background(), "u1", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.GetByID(context.Background(), id, "u1")
	if err != nil {
		t.Fatalf("expected row to survive a Delete from Inbox (moved, not removed): %v", err)
	}
	if got.Folder != model.FolderTrash {
		t.Fatalf("got folder %q, want %q", got.Folder, model.FolderTrash)
	}
}

func TestDeleteFromTrashRemovesRow(t *testing.T) {
	ex, s := newExecutor(t)
	id := model.CompositeID(3, model.FolderTrash)
	seedMessage(t, s, id, 3, model.FolderTrash, "a@b.com")

	if err := ex.Delete(context.Background(), "u1", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetByID(context.Background(), id, "u1"); err != bridgeerr.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after permanent delete", err)
	}
}

func TestMoveToCategoryReassignsSenderAndPersistsRule(t *testing.T) {
	ex, s := newExecutor(t)
	idA := model.CompositeID(10, model.FolderInbox)
	idB := model.CompositeID(11, model.FolderInbox)
	seedMessage(t, s, idA, 10, model.FolderInbox, "notify@newsletter.example.com")
	seedMessage(t, s, idB, 11, model.FolderInbox, "notify@newsletter.example.com")

	if err := ex.MoveToCategory(context.Background(), "u1", idA, model.CategoryUpdates); err != nil {
		t.Fatalf("MoveToCategory: %v", err)
	}

	gotA, err := s.GetByID(context.Background(), idA, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if gotA.Category != model.CategoryUpdates {
		t.Fatalf("got category %q, want %q", gotA.Category, model.CategoryUpdates)
	}

	gotB, err := s.GetByID(context.Background(), idB, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if gotB.Category != model.CategoryUpdates {
		t.Fatalf("expected same-sender message to be reassigned too, got %q", gotB.Category)
	}

	rules, err := s.ListRules(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) == 0 {
		t.Fatal("expected a standing classification rule to be persisted")
	}
}

func TestSetLabelAddsAndRemoves(t *testing.T) {
	ex, s := newExecutor(t)
	id := model.CompositeID(20, model.FolderInbox)
	seedMessage(t, s, id, 20, model.FolderInbox, "a@b.com")

	if err := ex.SetLabel(context.Background(), "u1", id, "work", true); err != nil {
		t.Fatalf("SetLabel add: %v", err)
	}
	got, err := s.GetByID(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Labels["work"] {
		t.Fatal("expected label 'work' to be present")
	}

	if err := ex.SetLabel(context.Background(), "u1", id, "work", false); err != nil {
		t.Fatalf("SetLabel remove: %v", err)
	}
	got, err = s.GetByID(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Labels["work"] {
		t.Fatal("expected label 'work' to be removed")
	}
}

func asValidationError(err error, target **bridgeerr.ValidationError) bool {
	ve, ok := err.(*bridgeerr.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
