package draftuplink

import (
	"bytes"
	"context"
	"io"
	"testing"

	emmail "github.com/emersion/go-message/mail"

	"github.com/highkick05/mailboy-sub000/internal/attachment"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

func TestFilenameFromBlobKey(t *testing.T) {
	got := filenameFromBlobKey("1700000000-42-invoice.pdf")
	if got != "invoice.pdf" {
		t.Fatalf("got %q, want invoice.pdf", got)
	}
}

func TestComposeDraftNoAttachmentsProducesSingleInlinePlainBody(t *testing.T) {
	store, err := attachment.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	d := model.DraftStaging{
		User: "u1", ClientDraftID: "c1",
		From: "me@example.com", To: []string{"you@example.com"},
		Subject: "hello", Body: "just a note",
	}
	buf, err := composeDraft(d, store)
	if err != nil {
		t.Fatalf("composeDraft: %v", err)
	}

	mr, err := emmail.CreateReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	subj, _ := mr.Header.Subject()
	if subj != "hello" {
		t.Fatalf("got subject %q, want hello", subj)
	}
	if got := mr.Header.Get(draftIDHeader); got != "c1" {
		t.Fatalf("got draft id header %q, want c1", got)
	}

	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	body, _ := io.ReadAll(part.Body)
	if string(body) != "just a note" {
		t.Fatalf("got body %q", body)
	}
}

func TestComposeDraftWithAttachmentIncludesFilename(t *testing.T) {
	store, err := attachment.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := "1700000000-7-report.pdf"
	if err := store.Put(context.Background(), key, bytes.NewReader([]byte("%PDF-1.4 fake"))); err != nil {
		t.Fatal(err)
	}

	d := model.DraftStaging{
		User: "u1", ClientDraftID: "c2",
		From: "me@example.com", Subject: "with attachment", Body: "see attached",
		NewAttachmentKeys: []string{key},
	}
	buf, err := composeDraft(d, store)
	if err != nil {
		t.Fatalf("composeDraft: %v", err)
	}

	mr, err := emmail.CreateReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}

	var sawAttachment bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		if ah, ok := part.Header.(*emmail.AttachmentHeader); ok {
			filename, _ := ah.Filename()
			if filename == "report.pdf" {
				sawAttachment = true
			}
		}
	}
	if !sawAttachment {
		t.Fatal("expected an attachment part named report.pdf")
	}
}
