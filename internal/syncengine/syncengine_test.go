package syncengine

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/highkick05/mailboy-sub000/internal/model"
)

func TestEnvelopeToMessageMapsFields(t *testing.T) {
	env := &imap.Envelope{
		Subject: "hello",
		Date:    time.Unix(1700000000, 0),
		From:    []*imap.Address{{PersonalName: "Ann", MailboxName: "ann", HostName: "example.com"}},
		To:      []*imap.Address{{MailboxName: "bob", HostName: "example.org"}},
	}
	m := &imap.Message{Uid: 42, Envelope: env, Flags: []string{imap.SeenFlag}}

	msg := envelopeToMessage(m, "u1", model.FolderInbox)
	if msg.ID != model.CompositeID(42, model.FolderInbox) {
		t.Fatalf("got id %s", msg.ID)
	}
	if msg.From != "ann@example.com" || msg.FromName != "Ann" {
		t.Fatalf("got from=%s fromName=%s", msg.From, msg.FromName)
	}
	if len(msg.To) != 1 || msg.To[0] != "bob@example.org" {
		t.Fatalf("got to=%v", msg.To)
	}
	if !msg.Read {
		t.Fatal("expected Read=true from \\Seen flag")
	}
}

func TestEnvelopeToMessageUnreadWithoutSeenFlag(t *testing.T) {
	m := &imap.Message{Uid: 1, Envelope: &imap.Envelope{}, Flags: []string{imap.FlaggedFlag}}
	msg := envelopeToMessage(m, "u1", model.FolderInbox)
	if msg.Read {
		t.Fatal("expected Read=false without \\Seen")
	}
}

func TestEnvelopeToMessageFallsBackToNowOnZeroDate(t *testing.T) {
	before := time.Now().UnixMilli()
	m := &imap.Message{Uid: 1, Envelope: &imap.Envelope{Subject: "no date"}}
	msg := envelopeToMessage(m, "u1", model.FolderInbox)
	after := time.Now().UnixMilli()

	if msg.Timestamp < before || msg.Timestamp > after {
		t.Fatalf("got Timestamp %d, want between %d and %d (an unparsed Date must fall back to now, not the zero time)", msg.Timestamp, before, after)
	}
}

func TestTryStartRejectsWithinCooldown(t *testing.T) {
	e := &Engine{inFlight: make(map[string]bool), lastRunAt: make(map[string]time.Time)}
	if !e.tryStart("u1") {
		t.Fatal("first tryStart should succeed")
	}
	e.finish("u1")
	if e.tryStart("u1") {
		t.Fatal("tryStart within cooldown should fail")
	}
}

func TestTryStartRejectsWhileInFlight(t *testing.T) {
	e := &Engine{inFlight: make(map[string]bool), lastRunAt: make(map[string]time.Time)}
	e.tryStart("u1")
	if e.tryStart("u1") {
		t.Fatal("tryStart should reject a second concurrent sync for the same user")
	}
}
