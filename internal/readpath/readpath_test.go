package readpath

import (
	"context"
	"testing"
	"time"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

func newReader(t *testing.T) (*Reader, *storage.Store, *cache.Cache, *queue.Queue) {
	t.Helper()
	s, err := storage.Open("file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	hot := cache.New()
	q := queue.New()
	t.Cleanup(func() { q.Close() })
	return New(s, hot, q), s, hot, q
}

func TestFetchReturnsHotCacheHit(t *testing.T) {
	r, _, hot, _ := newReader(t)
	id := model.CompositeID(1, model.FolderInbox)
	msg := model.Message{ID: id, UID: 1, User: "u1", Folder: model.FolderInbox, IsFullBody: true, Body: "hi"}
	hot.Set(cache.ClassMailObj, cache.MailObjKey(id, "u1"), msg)

	res, err := r.Fetch(context.Background(), id, "u1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Source != SourceHot || res.Message.Body != "hi" {
		t.Fatalf("got %+v, want hot hit with body 'hi'", res)
	}
}

func TestFetchPrimesHotCacheFromWarmStorage(t *testing.T) {
	r, s, hot, _ := newReader(t)
	id := model.CompositeID(2, model.FolderInbox)
	msg := model.Message{ID: id, UID: 2, User: "u1", Folder: model.FolderInbox, Timestamp: 1000}
	if err := s.UpsertEnvelope(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateHydration(context.Background(), id, "u1", "<p>hi</p>", "hi", nil); err != nil {
		t.Fatal(err)
	}

	res, err := r.Fetch(context.Background(), id, "u1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Source != SourceWarm {
		t.Fatalf("got source %q, want warm", res.Source)
	}
	if _, ok := hot.Get(cache.ClassMailObj, cache.MailObjKey(id, "u1")); !ok {
		t.Fatal("expected warm hit to prime the hot cache")
	}
}

func TestFetchEnqueuesForegroundJobAndTimesOutWithoutHydration(t *testing.T) {
	r, s, _, q := newReader(t)
	id := model.CompositeID(3, model.FolderInbox)
	msg := model.Message{ID: id, UID: 3, User: "u1", Folder: model.FolderInbox, Timestamp: 1000}
	if err := s.UpsertEnvelope(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// shrink the poll budget for the test by racing a context deadline
	// instead of waiting out the real 10s budget.
	_, err := r.Fetch(ctx, id, "u1")
	if err == nil {
		t.Fatal("expected an error since the job is never actually hydrated")
	}
	if !bridgeerr.IsFetchTimeout(err) && err != context.DeadlineExceeded {
		t.Fatalf("got %v, want FetchTimeoutError or context deadline", err)
	}

	job := q.Pop()
	if job == nil || job.ID != id || job.Priority != model.PriorityForeground {
		t.Fatalf("expected a foreground hydration job to be enqueued, got %+v", job)
	}
}
