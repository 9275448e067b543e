// Package draftuplink implements the Draft Uplink (§4.10): a dedicated
// per-user loop that keeps the Drafts folder bidirectionally consistent,
// draining staged local saves up to the remote and reconciling whatever
// drifted in between.
//
// Loop shape grounded on spilldb/processor.Processor.Run (cancel-context
// + ticker); MIME composition grounded on email/msgbuilder's
// tree-then-encode structure, rebuilt against emersion/go-message/mail
// since msgbuilder is tightly coupled to the teacher's own DKIM-signing
// server pipeline, which a client-side draft uplink has no use for.
package draftuplink

import (
	"context"
	"net/textproto"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/attachment"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

// cycleInterval is the sleep between uplink passes (§4.10 step 4).
const cycleInterval = 2 * time.Second

// Deps are the collaborators a single user's uplink loop needs.
type Deps struct {
	User        string
	Store       *storage.Store
	Hot         *cache.Cache
	Pool        *session.Pool
	Queue       *queue.Queue
	Attachments attachment.Store
	Log         *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Uplink runs one user's draft-reconciliation loop.
type Uplink struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the uplink loop and returns a handle to stop it.
func Start(ctx context.Context, deps Deps) *Uplink {
	ctx, cancel := context.WithCancel(ctx)
	u := &Uplink{cancel: cancel, done: make(chan struct{})}
	go u.run(ctx, deps)
	return u
}

// Stop cancels the loop and waits for it to exit.
func (u *Uplink) Stop() {
	u.cancel()
	<-u.done
}

func (u *Uplink) run(ctx context.Context, deps Deps) {
	defer close(u.done)
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle(ctx, deps)
		}
	}
}

func runCycle(ctx context.Context, deps Deps) {
	cfg, err := deps.Store.GetUserConfig(ctx, deps.User)
	if err != nil {
		return
	}
	sess, err := deps.Pool.Get(deps.User, cfg)
	if err != nil {
		return
	}

	err = sess.WithFolder(model.FolderDrafts, false, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		drainStagedSaves(ctx, deps, c)
		reconcileDrafts(ctx, deps, c)
		return nil
	})
	if err != nil {
		deps.logger().Warn("draft uplink cycle failed", zap.String("user", deps.User), zap.Error(err))
	}
}

// drainStagedSaves implements §4.10 step 2: for every pending staged
// draft save, supersede any prior remote copy and append the new one.
func drainStagedSaves(ctx context.Context, deps Deps, c *imapclient.Client) {
	pending, err := deps.Store.ListPendingDraftStaging(ctx, deps.User)
	if err != nil {
		return
	}
	for _, d := range pending {
		supersedeRemoteDraft(c, d)

		raw, err := composeDraft(d, deps.Attachments)
		if err != nil {
			deps.logger().Warn("compose staged draft failed", zap.String("user", deps.User),
				zap.String("clientDraftId", d.ClientDraftID), zap.Error(err))
			continue
		}
		if err := c.Append(model.FolderDrafts, []string{imap.DraftFlag}, time.Now(), raw); err != nil {
			deps.logger().Warn("append staged draft failed", zap.String("user", deps.User),
				zap.String("clientDraftId", d.ClientDraftID), zap.Error(err))
			continue
		}

		status, err := c.Status(model.FolderDrafts, []imap.StatusItem{imap.StatusUidNext})
		var remoteUID *uint32
		if err == nil && status != nil {
			uid := status.UidNext - 1
			remoteUID = &uid
		}

		msg := model.Message{
			ID:         compositeIDFor(remoteUID, d),
			User:       deps.User,
			Folder:     model.FolderDrafts,
			From:       d.From,
			To:         d.To,
			Subject:    d.Subject,
			Timestamp:  d.StagedAtMillis,
			Read:       true,
			IsFullBody: d.Body != "",
			Body:       d.Body,
			Preview:    d.Body,
		}
		if remoteUID != nil {
			msg.UID = *remoteUID
		}
		deps.Store.UpsertEnvelope(ctx, msg)
		deps.Store.UpdateHydration(ctx, msg.ID, deps.User, msg.Body, msg.Preview, nil)

		deps.Hot.DeletePrefix(cache.ClassMailList, cache.MailListPrefix(deps.User, model.FolderDrafts))
		deps.Store.DeleteDraftStaging(ctx, deps.User, d.ClientDraftID)
	}
}

func compositeIDFor(remoteUID *uint32, d model.DraftStaging) string {
	if remoteUID != nil {
		return model.CompositeID(*remoteUID, model.FolderDrafts)
	}
	if d.RemoteUID != nil {
		return model.CompositeID(*d.RemoteUID, model.FolderDrafts)
	}
	return model.CompositeID(0, model.FolderDrafts)
}

// supersedeRemoteDraft deletes the remote copy of a previously-appended
// draft for the same client draft id (§4.10 step 2b): by stored uid if
// known, otherwise by header search.
func supersedeRemoteDraft(c *imapclient.Client, d model.DraftStaging) {
	var uids []uint32
	if d.RemoteUID != nil {
		uids = []uint32{*d.RemoteUID}
	} else {
		criteria := imap.NewSearchCriteria()
		criteria.Header = textproto.MIMEHeader{draftIDHeader: []string{d.ClientDraftID}}
		found, err := c.UidSearch(criteria)
		if err != nil {
			return
		}
		uids = found
	}
	if len(uids) == 0 {
		return
	}
	seqset := new(imap.SeqSet)
	for _, uid := range uids {
		seqset.AddNum(uid)
	}
	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
		return
	}
	c.Expunge(nil)
}

// reconcileDrafts implements §4.10 step 3: issue a no-op to flush server
// state, then compare local Drafts rows against what the server actually
// holds, dropping local rows for messages no longer present remotely and
// pulling in any remote draft missing locally (e.g. composed from a
// different client).
//
// The Noop is load-bearing: drainStagedSaves may have just APPENDed a
// draft to this same selected mailbox, and a server is not required to
// volunteer the untagged EXISTS that bumps c.Mailbox().Messages until
// the next command round-trip. Without it, the freshly-appended draft's
// sequence number can fall outside the stale 1..Messages range below,
// so it never enters the remote set and the very row drainStagedSaves
// just created gets deleted as "no longer present remotely".
func reconcileDrafts(ctx context.Context, deps Deps, c *imapclient.Client) {
	if err := c.Noop(); err != nil {
		return
	}

	local, err := deps.Store.ListUIDsByFolder(ctx, deps.User, model.FolderDrafts)
	if err != nil {
		return
	}

	remote := make(map[uint32]bool)
	if c.Mailbox() != nil && c.Mailbox().Messages > 0 {
		seqset := new(imap.SeqSet)
		seqset.AddRange(1, c.Mailbox().Messages)
		messages := make(chan *imap.Message, c.Mailbox().Messages)
		done := make(chan error, 1)
		items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}
		go func() { done <- c.Fetch(seqset, items, messages) }()

		var fetched []*imap.Message
		for m := range messages {
			fetched = append(fetched, m)
		}
		if err := <-done; err != nil {
			return
		}
		for _, m := range fetched {
			remote[m.Uid] = true
		}
	}

	for uid, id := range local {
		if !remote[uid] {
			deps.Store.DeleteEmail(ctx, id, deps.User)
			deps.Hot.InvalidateMessage(deps.User, id, model.FolderDrafts)
		}
	}
	for uid := range remote {
		if _, ok := local[uid]; !ok {
			hydrateMissingDraft(ctx, deps, c, uid)
		}
	}

	deps.Hot.DeletePrefix(cache.ClassMailList, cache.MailListPrefix(deps.User, model.FolderDrafts))
}

func hydrateMissingDraft(ctx context.Context, deps Deps, c *imapclient.Client, uid uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqset, items, messages) }()

	var m *imap.Message
	for msg := range messages {
		m = msg
	}
	if err := <-done; err != nil || m == nil || m.Envelope == nil {
		return
	}

	date := m.Envelope.Date
	if date.IsZero() {
		// §4.1's "falls back to 'now' if parsing fails": go-imap leaves
		// Envelope.Date as the zero time rather than erroring, which would
		// otherwise sort this draft to the bottom of the list forever.
		date = time.Now()
	}

	id := model.CompositeID(uid, model.FolderDrafts)
	msg := model.Message{
		ID: id, UID: uid, User: deps.User, Folder: model.FolderDrafts,
		Subject:   m.Envelope.Subject,
		Timestamp: date.UnixMilli(),
	}
	if len(m.Envelope.From) > 0 {
		msg.From = m.Envelope.From[0].MailboxName + "@" + m.Envelope.From[0].HostName
		msg.FromName = m.Envelope.From[0].PersonalName
	}
	deps.Store.UpsertEnvelope(ctx, msg)
	deps.Queue.Add(model.Job{
		ID:       id,
		Priority: model.PriorityBackground,
		Data:     model.JobData{UID: uid, Folder: model.FolderDrafts, User: deps.User},
	})
}
