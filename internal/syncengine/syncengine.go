// Package syncengine implements the Sync Orchestrator (§4.7): quick-sync
// and full-sync reconciliation between the remote mailbox and the local
// Storage Layer, plus the per-user background timer that keeps the
// Inbox's recent window current.
//
// Grounded on spilldb/processor's batch-then-requeue shape and
// boxmgmt's per-user session reuse, adapted from "scan a local sqlite
// staging table" to "walk remote IMAP folders in bounded batches".
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/classifier"
	"github.com/highkick05/mailboy-sub000/internal/foldermap"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

// quickSyncThreshold is the local Inbox count at/above which quick sync
// replaces full sync (§4.7).
const quickSyncThreshold = 200

// quickSyncWindow is the tail of the Inbox quick sync re-checks.
const quickSyncWindow = 50

// fullSyncTarget caps how many messages full sync pulls per folder.
const fullSyncTarget = 400

// smallFolderThreshold: below this, full sync fetches the whole folder.
const smallFolderThreshold = 100

const defaultBatchSize = 50
const sentBatchSize = 25
const bisectBatchSize = 10

// backgroundInterval is how often the timer attempts a quick sync.
const backgroundInterval = 60 * time.Second

// perUserCooldown bars back-to-back syncs closer together than this.
const perUserCooldown = 10 * time.Second

// fullSyncFolders is walked in order during a full sync (§4.7).
var fullSyncFolders = []string{
	model.FolderInbox, model.FolderTrash, model.FolderSent,
	model.FolderDrafts, model.FolderSpam,
}

// Engine runs sync operations over the given collaborators. internal/bridge
// builds one Engine per active user, bound to that user's queue; per-user
// state (sync in flight, last-run time) is tracked internally.
type Engine struct {
	store *storage.Store
	hot   *cache.Cache
	pool  *session.Pool
	q     *queue.Queue
	log   *zap.Logger

	mu        sync.Mutex
	inFlight  map[string]bool
	lastRunAt map[string]time.Time
}

// New returns an Engine sharing the given collaborators. A nil log is
// replaced with a no-op logger.
func New(store *storage.Store, hot *cache.Cache, pool *session.Pool, q *queue.Queue, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		hot:       hot,
		pool:      pool,
		q:         q,
		log:       log,
		inFlight:  make(map[string]bool),
		lastRunAt: make(map[string]time.Time),
	}
}

func (e *Engine) tryStart(user string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[user] {
		return false
	}
	if last, ok := e.lastRunAt[user]; ok && time.Since(last) < perUserCooldown {
		return false
	}
	e.inFlight[user] = true
	return true
}

func (e *Engine) finish(user string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight[user] = false
	e.lastRunAt[user] = time.Now()
}

func (e *Engine) setProgress(user, status string, percent int) {
	e.hot.Set(cache.ClassSyncProgress, cache.SyncProgressKey(user), cache.SyncProgress{Status: status, Percent: percent})
}

// RunInitial chooses quick vs. full sync per §4.7's count-based rule and
// runs it (used by the HTTP surface's explicit "sync now" and by initial
// account setup). Both modes pass through the per-user in-flight/cooldown
// gate, so a call made while a sync is running or within perUserCooldown
// of the last one returns nil without syncing.
func (e *Engine) RunInitial(ctx context.Context, user string, cfg model.UserConfig) error {
	count, err := e.store.CountByFolder(ctx, user, model.FolderInbox)
	if err != nil {
		return err
	}
	if count >= quickSyncThreshold {
		return e.QuickSync(ctx, user, cfg)
	}
	return e.FullSync(ctx, user, cfg)
}

// QuickSync implements §4.7's quick-sync mode: the Inbox's most recent
// quickSyncWindow messages, envelope+flags only, hydration jobs enqueued
// at background priority for anything not yet fully hydrated.
func (e *Engine) QuickSync(ctx context.Context, user string, cfg model.UserConfig) error {
	if !e.tryStart(user) {
		return nil
	}
	defer e.finish(user)

	sess, err := e.pool.Get(user, cfg)
	if err != nil {
		e.setProgress(user, "ERROR", 0)
		return err
	}

	var msgs []*imap.Message
	err = sess.WithFolder("INBOX", true, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		if mbox.Messages == 0 {
			return nil
		}
		from := uint32(1)
		if mbox.Messages > quickSyncWindow {
			from = mbox.Messages - quickSyncWindow
		}
		fetched, err := fetchBatched(c, from, mbox.Messages, bisectBatchSize)
		msgs = fetched
		return err
	})
	if err != nil {
		if isRetryable(err) {
			e.pool.Drop(user)
		}
		return err
	}

	if err := e.ingest(ctx, user, model.FolderInbox, msgs); err != nil {
		return err
	}
	return nil
}

// FullSync implements §4.7's full-sync mode across the fixed folder set.
func (e *Engine) FullSync(ctx context.Context, user string, cfg model.UserConfig) error {
	if !e.tryStart(user) {
		return nil
	}
	defer e.finish(user)

	e.setProgress(user, "HYDRATING", 1)

	folderMap, err := e.resolveFolders(user, cfg)
	if err != nil {
		if errors.Is(err, bridgeerr.ErrAuthRequired) {
			e.setProgress(user, "ERROR", 0)
		}
		return err
	}

	for i, canon := range fullSyncFolders {
		serverName, ok := folderMap[canon]
		if !ok {
			continue
		}
		if err := e.syncOneFolder(ctx, user, cfg, canon, serverName); err != nil {
			if errors.Is(err, bridgeerr.ErrAuthRequired) {
				e.setProgress(user, "ERROR", 0)
				return err
			}
			e.log.Warn("full sync folder failed, continuing with remaining folders",
				zap.String("user", user), zap.String("folder", canon), zap.Error(err))
			continue
		}
		percent := 1 + (i+1)*98/len(fullSyncFolders)
		if percent > 99 {
			percent = 99
		}
		e.setProgress(user, "HYDRATING", percent)
	}

	if err := e.store.MarkSyncComplete(ctx, user, nowMillis()); err != nil {
		return err
	}
	e.setProgress(user, "IDLE", 100)
	return nil
}

func (e *Engine) resolveFolders(user string, cfg model.UserConfig) (map[string]string, error) {
	sess, err := e.pool.Get(user, cfg)
	if err != nil {
		return nil, err
	}
	var result map[string]string
	err = sess.WithFolder("INBOX", true, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		m, ferr := foldermap.Resolve(c, user, e.hot)
		result = m
		return ferr
	})
	return result, err
}

func (e *Engine) syncOneFolder(ctx context.Context, user string, cfg model.UserConfig, canon, serverName string) error {
	sess, err := e.pool.Get(user, cfg)
	if err != nil {
		return err
	}

	batchSize := defaultBatchSize
	if canon == model.FolderSent {
		batchSize = sentBatchSize
	}

	var msgs []*imap.Message
	err = sess.WithFolder(serverName, true, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		if mbox.Messages == 0 {
			return nil
		}
		total := mbox.Messages
		target := uint32(fullSyncTarget)
		if total < smallFolderThreshold {
			target = total
		}
		from := uint32(1)
		if total > target {
			from = total - target + 1
		}
		fetched, ferr := fetchBatched(c, from, total, batchSize)
		msgs = fetched
		return ferr
	})
	if err != nil {
		if isRetryable(err) {
			e.pool.Drop(user)
		}
		return err
	}
	return e.ingest(ctx, user, canon, msgs)
}

// fetchBatched fetches seq range [from, to] in batchSize chunks, bisecting
// a failing batch into bisectBatchSize-sized sub-ranges once before giving
// up (§4.7: "On a batch failure, bisect into 10-message sub-ranges").
func fetchBatched(c *imapclient.Client, from, to uint32, batchSize int) ([]*imap.Message, error) {
	var all []*imap.Message
	for start := from; start <= to; start += uint32(batchSize) {
		end := start + uint32(batchSize) - 1
		if end > to {
			end = to
		}
		msgs, err := fetchRange(c, start, end)
		if err != nil {
			if batchSize == bisectBatchSize {
				return nil, err
			}
			sub, serr := fetchBatched(c, start, end, bisectBatchSize)
			if serr != nil {
				return nil, serr
			}
			msgs = sub
		}
		all = append(all, msgs...)
	}
	return all, nil
}

func fetchRange(c *imapclient.Client, from, to uint32) ([]*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}
	messages := make(chan *imap.Message, to-from+1)
	done := make(chan error, 1)
	go func() { done <- c.Fetch(seqset, items, messages) }()

	var out []*imap.Message
	for m := range messages {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch %d:%d: %v", bridgeerr.ErrRemoteTransient, from, to, err)
	}
	return out, nil
}

// ingest converts fetched envelopes into Messages, upserts them
// (immutable-on-insert, mutable-on-update per §4.1), classifies new Inbox
// arrivals, and enqueues background hydration jobs for anything not yet
// fully hydrated.
func (e *Engine) ingest(ctx context.Context, user, folder string, msgs []*imap.Message) error {
	var rules []model.ClassificationRule
	if folder == model.FolderInbox {
		r, err := e.store.ListRules(ctx, user)
		if err == nil {
			rules = r
		}
	}

	for _, m := range msgs {
		if m == nil || m.Envelope == nil {
			continue
		}
		msg := envelopeToMessage(m, user, folder)
		if folder == model.FolderInbox {
			msg.Category = classifier.Classify(classifier.Input{From: msg.From, Subject: msg.Subject}, rules)
		}
		if err := e.store.UpsertEnvelope(ctx, msg); err != nil {
			return err
		}

		full, err := e.store.IsFullBody(ctx, msg.ID, user)
		if err != nil {
			continue
		}
		if !full {
			e.q.Add(model.Job{
				ID:       msg.ID,
				Priority: model.PriorityBackground,
				Data:     model.JobData{UID: msg.UID, Folder: folder, User: user},
			})
		}
	}

	e.hot.DeletePrefix(cache.ClassMailList, cache.MailListPrefix(user, folder))
	return nil
}

func envelopeToMessage(m *imap.Message, user, folder string) model.Message {
	env := m.Envelope
	from, fromName := "", ""
	if len(env.From) > 0 {
		from = addressString(env.From[0])
		fromName = env.From[0].PersonalName
	}
	var to []string
	for _, a := range env.To {
		to = append(to, addressString(a))
	}

	read := false
	for _, f := range m.Flags {
		if strings.EqualFold(f, imap.SeenFlag) {
			read = true
		}
	}

	// §4.1: "timestamp (ms since epoch; falls back to 'now' if parsing
	// fails)". go-imap leaves Envelope.Date as the zero time rather than
	// erroring when it can't parse the server's Date header, which would
	// otherwise sort the message to the bottom of the list forever.
	date := env.Date
	if date.IsZero() {
		date = time.Now()
	}

	return model.Message{
		ID:           model.CompositeID(m.Uid, folder),
		UID:          m.Uid,
		User:         user,
		From:         from,
		FromName:     fromName,
		NormFromName: strings.ToLower(fromName),
		To:           to,
		Subject:      env.Subject,
		Timestamp:    date.UnixMilli(),
		Read:         read,
		Folder:       folder,
	}
}

func addressString(a *imap.Address) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s@%s", a.MailboxName, a.HostName)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func isRetryable(err error) bool {
	return errors.Is(err, bridgeerr.ErrRemoteTransient) || errors.Is(err, bridgeerr.ErrRemoteOverloaded)
}

// BackgroundLoop runs quick syncs for user every backgroundInterval until
// ctx is cancelled (§4.7: "a background timer runs quick-sync per user
// every 60s, provided a per-user 10s cooldown has elapsed and no other
// sync is in flight").
func (e *Engine) BackgroundLoop(ctx context.Context, user string, cfg model.UserConfig) {
	ticker := time.NewTicker(backgroundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.QuickSync(ctx, user, cfg); err != nil {
				e.log.Warn("background quick sync failed",
					zap.String("user", user), zap.Error(err))
			}
		}
	}
}

