package cache_test

import (
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/cache"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	c := cache.New()
	key := cache.MailObjKey("uid-1-Inbox", "u1")

	if _, ok := c.Get(cache.ClassMailObj, key); ok {
		t.Fatal("expected miss before Set")
	}
	c.Set(cache.ClassMailObj, key, "v1")
	v, ok := c.Get(cache.ClassMailObj, key)
	if !ok || v != "v1" {
		t.Fatalf("got (%v, %v), want (v1, true)", v, ok)
	}
	c.Delete(cache.ClassMailObj, key)
	if _, ok := c.Get(cache.ClassMailObj, key); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestDeletePrefixOnlyRemovesMatchingKeys(t *testing.T) {
	c := cache.New()
	c.Set(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "primary"), "a")
	c.Set(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "social"), "b")
	c.Set(cache.ClassMailList, cache.MailListKey("u1", "Sent", "all"), "c")

	c.DeletePrefix(cache.ClassMailList, cache.MailListPrefix("u1", "Inbox"))

	if _, ok := c.Get(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "primary")); ok {
		t.Fatal("expected Inbox/primary to be gone")
	}
	if _, ok := c.Get(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "social")); ok {
		t.Fatal("expected Inbox/social to be gone")
	}
	if _, ok := c.Get(cache.ClassMailList, cache.MailListKey("u1", "Sent", "all")); !ok {
		t.Fatal("expected Sent/all to survive")
	}
}

func TestInvalidateMessageDropsObjectAndFolderLists(t *testing.T) {
	c := cache.New()
	id := "uid-1-Inbox"
	c.Set(cache.ClassMailObj, cache.MailObjKey(id, "u1"), "msg")
	c.Set(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "all"), "list")

	c.InvalidateMessage("u1", id, "Inbox")

	if _, ok := c.Get(cache.ClassMailObj, cache.MailObjKey(id, "u1")); ok {
		t.Fatal("expected mail_obj entry to be invalidated")
	}
	if _, ok := c.Get(cache.ClassMailList, cache.MailListKey("u1", "Inbox", "all")); ok {
		t.Fatal("expected Inbox list snapshot to be invalidated")
	}
}

func TestDraftSendSuppression(t *testing.T) {
	c := cache.New()
	if c.IsDraftSendSuppressed("u1", "d1") {
		t.Fatal("expected not suppressed before SuppressDraftSend")
	}
	c.SuppressDraftSend("u1", "d1")
	if !c.IsDraftSendSuppressed("u1", "d1") {
		t.Fatal("expected suppressed after SuppressDraftSend")
	}
	if c.IsDraftSendSuppressed("u1", "d2") {
		t.Fatal("expected a different clientDraftId to be unaffected")
	}
}

func TestResetDropsEveryClass(t *testing.T) {
	c := cache.New()
	c.Set(cache.ClassMailObj, "k", "v")
	c.Set(cache.ClassSyncProgress, "k2", "v2")

	c.Reset()

	if _, ok := c.Get(cache.ClassMailObj, "k"); ok {
		t.Fatal("expected mail_obj entry gone after Reset")
	}
	if _, ok := c.Get(cache.ClassSyncProgress, "k2"); ok {
		t.Fatal("expected sync_progress entry gone after Reset")
	}
}
