package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/highkick05/mailboy-sub000/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New("file::memory:?mode=memory&cache=shared", t.TempDir())
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return e
}

// unreachableConfig points at a port nothing listens on so the initial
// sync's connect attempt fails immediately instead of waiting out a real
// network timeout.
func unreachableConfig(user string) model.UserConfig {
	return model.UserConfig{
		User: user, IMAPHost: "127.0.0.1", IMAPPort: 1,
		SMTPHost: "127.0.0.1", SMTPPort: 1,
	}
}

func TestStartFailsFastOnUnreachableHostButLeavesUserStoppable(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Start(ctx, unreachableConfig("u1")); err == nil {
		t.Fatal("expected Start to fail against an unreachable IMAP host")
	}

	if e.Sync("u1") == nil {
		t.Fatal("expected a sync engine to be registered despite the initial sync failing")
	}

	e.StopUser("u1")
	if e.Sync("u1") != nil {
		t.Fatal("expected StopUser to deregister the user")
	}
	// calling StopUser again must be a harmless no-op.
	e.StopUser("u1")
}

func TestStartTwiceForSameUserIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Start(ctx, unreachableConfig("u2"))
	first := e.Sync("u2")

	e.Start(ctx, unreachableConfig("u2"))
	second := e.Sync("u2")

	if first != second {
		t.Fatal("expected a second Start for the same user to leave the existing sync engine in place")
	}
	e.StopUser("u2")
}

func TestShutdownStopsEveryUserAndRejectsFurtherStarts(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Start(ctx, unreachableConfig("u3"))
	e.Shutdown()

	if e.Sync("u3") != nil {
		t.Fatal("expected Shutdown to deregister every user")
	}
	if err := e.Start(context.Background(), unreachableConfig("u4")); err == nil {
		t.Fatal("expected Start after Shutdown to be rejected")
	}
}
