package storage_test

import (
	"context"
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open("file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertEnvelopeIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := model.Message{
		ID: model.CompositeID(42, model.FolderInbox), UID: 42, User: "u1",
		Folder: model.FolderInbox, Timestamp: 1000,
		From: "a@b.com", Subject: "hi",
	}
	if err := s.UpsertEnvelope(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateHydration(ctx, msg.ID, "u1", "<p>hi</p>", "hi", nil); err != nil {
		t.Fatal(err)
	}

	// invariant 4: re-running UpsertEnvelope with the same envelope set
	// must not touch body/isFullBody/preview/attachments.
	if err := s.UpsertEnvelope(ctx, msg); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetByID(ctx, msg.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFullBody || got.Body != "<p>hi</p>" || got.Preview != "hi" {
		t.Fatalf("hydration state clobbered by re-sync: %+v", got)
	}
}

func TestUpdateHydrationLeavesIsFullBodyFalseOnEmptyBody(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := model.Message{ID: model.CompositeID(1, model.FolderInbox), UID: 1, User: "u1", Folder: model.FolderInbox}
	if err := s.UpsertEnvelope(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateHydration(ctx, msg.ID, "u1", "", "", nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetByID(ctx, msg.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsFullBody {
		t.Fatal("expected IsFullBody=false when hydration produced an empty body")
	}

	if err := s.UpdateHydration(ctx, msg.ID, "u1", "<p>hi</p>", "hi", nil); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetByID(ctx, msg.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFullBody {
		t.Fatal("expected IsFullBody=true once hydration produces a non-empty body")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByID(context.Background(), "uid-1-Inbox", "u1")
	if err != bridgeerr.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListByFolderOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, ts := range []int64{100, 300, 200} {
		msg := model.Message{
			ID: model.CompositeID(uint32(i+1), model.FolderInbox), UID: uint32(i + 1),
			User: "u1", Folder: model.FolderInbox, Timestamp: ts,
		}
		if err := s.UpsertEnvelope(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListByFolder(ctx, "u1", model.FolderInbox, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp > got[i-1].Timestamp {
			t.Fatalf("not sorted newest-first: %+v", got)
		}
	}
}

func TestReassignSenderCategoryByDomain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, from := range []string{"noreply@acme.com", "sales@acme.com", "x@other.com"} {
		msg := model.Message{
			ID: model.CompositeID(uint32(i+1), model.FolderInbox), UID: uint32(i + 1),
			User: "u1", Folder: model.FolderInbox, Timestamp: int64(i), From: from,
		}
		if err := s.UpsertEnvelope(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.ReassignSenderCategory(ctx, "u1", "acme.com", true, model.CategoryPromotions)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("reassigned %d, want 2", n)
	}
}

func TestResetClearsEveryCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := model.Message{ID: model.CompositeID(1, model.FolderInbox), UID: 1, User: "u1", Folder: model.FolderInbox}
	if err := s.UpsertEnvelope(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.PutUserConfig(ctx, model.UserConfig{User: "u1", IMAPHost: "imap.example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutLabel(ctx, "u1", "Urgent", "#f00"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRule(ctx, model.ClassificationRule{User: "u1", Category: model.CategorySocial, Type: model.RuleFrom, Value: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDraftStaging(ctx, model.DraftStaging{User: "u1", ClientDraftID: "d1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if _, err := s.GetByID(ctx, msg.ID, "u1"); err != bridgeerr.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound for email after reset", err)
	}
	if _, err := s.GetUserConfig(ctx, "u1"); err != bridgeerr.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound for config after reset", err)
	}
	if labels, err := s.ListLabels(ctx, "u1"); err != nil || len(labels) != 0 {
		t.Fatalf("got labels %+v err %v, want none after reset", labels, err)
	}
	if rules, err := s.ListRules(ctx, "u1"); err != nil || len(rules) != 0 {
		t.Fatalf("got rules %+v err %v, want none after reset", rules, err)
	}
	if _, err := s.GetDraftStaging(ctx, "u1", "d1"); err != bridgeerr.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound for draft staging after reset", err)
	}
}
