// Package readpath implements the Read Path (§4.11): the three-tier
// lookup (hot cache, warm storage, cold poll-for-hydration) behind every
// single-message fetch.
//
// New logic — no teacher module fetches a single cached entity through a
// tiered hot/warm/cold path — grounded in the Hot Cache's own Design
// Notes tagged `Source` variant and the poll-loop shape shared with
// spilldb/processor's retry timers.
package readpath

import (
	"context"
	"time"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

// Source tags where a Result's content was ultimately served from.
type Source string

const (
	SourceHot  Source = "hot"
	SourceWarm Source = "warm"
)

// pollBudget is the total time the cold path waits for hydration (§5).
const pollBudget = 10 * time.Second

// hotPollInterval is how often the cold path re-checks the hot cache.
const hotPollInterval = 500 * time.Millisecond

// warmPollInterval is how often the cold path re-checks storage.
const warmPollInterval = 2 * time.Second

// Result is what Fetch returns on success.
type Result struct {
	Message model.Message
	Source  Source
}

// Reader implements the read path over shared collaborators.
type Reader struct {
	store *storage.Store
	hot   *cache.Cache
	q     *queue.Queue
}

// New returns a Reader sharing the given collaborators.
func New(store *storage.Store, hot *cache.Cache, q *queue.Queue) *Reader {
	return &Reader{store: store, hot: hot, q: q}
}

// Fetch resolves (id, user) per §4.11's three tiers. It returns
// *bridgeerr.FetchTimeoutError if hydration doesn't complete within the
// poll budget.
func (r *Reader) Fetch(ctx context.Context, id, user string) (Result, error) {
	if v, ok := r.hot.Get(cache.ClassMailObj, cache.MailObjKey(id, user)); ok {
		if msg, ok := v.(model.Message); ok && msg.IsFullBody {
			return Result{Message: msg, Source: SourceHot}, nil
		}
	}

	msg, err := r.store.GetByID(ctx, id, user)
	if err != nil {
		return Result{}, err
	}
	if msg.IsFullBody {
		r.hot.Set(cache.ClassMailObj, cache.MailObjKey(id, user), msg)
		return Result{Message: msg, Source: SourceWarm}, nil
	}

	r.q.Add(model.Job{
		ID:       id,
		Priority: model.PriorityForeground,
		Data:     model.JobData{UID: msg.UID, Folder: msg.Folder, User: user},
	})

	return r.poll(ctx, id, user)
}

func (r *Reader) poll(ctx context.Context, id, user string) (Result, error) {
	deadline := time.Now().Add(pollBudget)
	hotTicker := time.NewTicker(hotPollInterval)
	defer hotTicker.Stop()
	warmTicker := time.NewTicker(warmPollInterval)
	defer warmTicker.Stop()

	for {
		if time.Now().After(deadline) {
			return Result{}, &bridgeerr.FetchTimeoutError{ID: id}
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-hotTicker.C:
			if v, ok := r.hot.Get(cache.ClassMailObj, cache.MailObjKey(id, user)); ok {
				if msg, ok := v.(model.Message); ok && msg.IsFullBody {
					return Result{Message: msg, Source: SourceHot}, nil
				}
			}
		case <-warmTicker.C:
			msg, err := r.store.GetByID(ctx, id, user)
			if err == nil && msg.IsFullBody {
				r.hot.Set(cache.ClassMailObj, cache.MailObjKey(id, user), msg)
				return Result{Message: msg, Source: SourceWarm}, nil
			}
		}
	}
}
