// Package bridge wires every collaborator package into the owned Engine
// (§5, §9): the single composition root a process entrypoint constructs
// once and drives for its whole lifetime.
//
// Grounded on spilldb.Server (spilldb/spilldb.go): a struct whose public
// fields are the shared collaborators, built by one New constructor and
// extended with per-user goroutine sets instead of the teacher's
// per-connection listener sets, since this domain has no inbound
// network listeners of its own.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"crawshaw.io/iox"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/attachment"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/draftuplink"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/mutation"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/readpath"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
	"github.com/highkick05/mailboy-sub000/internal/syncengine"
	"github.com/highkick05/mailboy-sub000/internal/worker"
)

// Engine is the bridge's composition root: every long-lived task for
// every active user is reachable from here (§5's "10 worker tasks per
// user, one draft-uplink task per user, one quick-sync timer per user").
type Engine struct {
	Store       *storage.Store
	Hot         *cache.Cache
	Pool        *session.Pool
	Attachments attachment.Store
	Filer       *iox.Filer
	Mutate      *mutation.Executor
	Log         *zap.Logger

	mu      sync.Mutex
	running bool
	users   map[string]*userTasks
}

// userTasks holds every task and collaborator scoped to one user's own
// queue.Queue — sync engine and read path are bound to it at
// construction (queue.Queue is itself a per-user actor, per §4.5), so
// they must live per-user rather than as shared Engine fields.
type userTasks struct {
	cancel context.CancelFunc
	queue  *queue.Queue
	swarm  *worker.Swarm
	uplink *draftuplink.Uplink
	sync   *syncengine.Engine
	read   *readpath.Reader
}

// New builds an Engine. dbFile is the sqlite storage path (":memory:" or
// "file::memory:?..." for tests); attachmentDir is the attachment blob
// store's root directory.
func New(dbFile, attachmentDir string) (*Engine, error) {
	store, err := storage.Open(dbFile)
	if err != nil {
		return nil, fmt.Errorf("bridge.New: open storage: %w", err)
	}
	attachments, err := attachment.NewDirStore(attachmentDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("bridge.New: open attachment store: %w", err)
	}

	hot := cache.New()
	pool := session.New()
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}

	e := &Engine{
		Store:       store,
		Hot:         hot,
		Pool:        pool,
		Attachments: attachments,
		Filer:       iox.NewFiler(0),
		Mutate:      mutation.New(store, hot, pool, log),
		Log:         log,
		users:       make(map[string]*userTasks),
		running:     true,
	}
	return e, nil
}

// Start brings up every per-user task for the given user (§5): the
// worker swarm, the draft uplink, and the background quick-sync timer.
// It also runs an initial sync (quick or full, per §4.7). Calling Start
// twice for the same user is a no-op.
func (e *Engine) Start(ctx context.Context, cfg model.UserConfig) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("bridge: engine is shut down")
	}
	if _, ok := e.users[cfg.User]; ok {
		e.mu.Unlock()
		return nil
	}
	userCtx, cancel := context.WithCancel(ctx)
	q := queue.New()
	syncEngine := syncengine.New(e.Store, e.Hot, e.Pool, q, e.Log)
	ut := &userTasks{
		cancel: cancel, queue: q,
		sync: syncEngine, read: readpath.New(e.Store, e.Hot, q),
	}
	e.users[cfg.User] = ut
	e.mu.Unlock()

	ut.swarm = worker.Start(userCtx, worker.Deps{
		User: cfg.User, Config: cfg, Pool: e.Pool, Queue: q,
		Store: e.Store, Hot: e.Hot, Attachments: e.Attachments, Filer: e.Filer,
		Log: e.Log,
	})
	ut.uplink = draftuplink.Start(userCtx, draftuplink.Deps{
		User: cfg.User, Store: e.Store, Hot: e.Hot, Pool: e.Pool,
		Queue: q, Attachments: e.Attachments, Log: e.Log,
	})
	go syncEngine.BackgroundLoop(userCtx, cfg.User, cfg)

	if err := syncEngine.RunInitial(userCtx, cfg.User, cfg); err != nil {
		return fmt.Errorf("bridge.Start: initial sync: %w", err)
	}
	return nil
}

// Sync returns user's sync engine, or nil if the user has no active
// session (Start was never called, or it was stopped).
func (e *Engine) Sync(user string) *syncengine.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ut, ok := e.users[user]; ok {
		return ut.sync
	}
	return nil
}

// Read returns user's read-path reader, or nil if the user has no active
// session.
func (e *Engine) Read(user string) *readpath.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ut, ok := e.users[user]; ok {
		return ut.read
	}
	return nil
}

// Queue returns user's job queue, or nil if the user has no active
// session.
func (e *Engine) Queue(user string) *queue.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ut, ok := e.users[user]; ok {
		return ut.queue
	}
	return nil
}

// StopUser terminates every task for user and drops its remote session.
// The user's queue is closed, so jobs still queued or in flight are not
// returned to any queue; they are discarded.
func (e *Engine) StopUser(user string) {
	e.mu.Lock()
	ut, ok := e.users[user]
	if ok {
		delete(e.users, user)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	ut.cancel()
	if ut.swarm != nil {
		ut.swarm.Stop()
	}
	if ut.uplink != nil {
		ut.uplink.Stop()
	}
	ut.queue.Close()
	e.Pool.Drop(user)
}

// Reset implements the administrative reset endpoint (§6 DELETE
// /debug/reset): stops every active user's tasks, then flushes the Hot
// Cache and the Storage Layer. Unlike Shutdown, the Engine stays running
// afterward — a new Start call is accepted.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	users := make([]string, 0, len(e.users))
	for u := range e.users {
		users = append(users, u)
	}
	e.mu.Unlock()

	for _, u := range users {
		e.StopUser(u)
	}
	e.Hot.Reset()
	return e.Store.Reset(ctx)
}

// Shutdown stops the Engine for good (§5's systemRunning flag): flips the
// running flag false, terminates every user's tasks, closes every session,
// the scratch filer and the store. Reset is the administrative reset.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.running = false
	users := make([]string, 0, len(e.users))
	for u := range e.users {
		users = append(users, u)
	}
	e.mu.Unlock()

	for _, u := range users {
		e.StopUser(u)
	}
	e.Pool.CloseAll()
	e.Filer.Shutdown(context.Background())
	e.Store.Close()
	_ = e.Log.Sync()
}
