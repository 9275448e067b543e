// Package mutation implements the Mutation Executor (§4.9): every user
// action applies optimistically to the Storage Layer and Hot Cache first,
// then fires its remote counterpart asynchronously. A failed remote
// effect never rolls back local state — the next full sync reconciles it
// (§4.9's stated failure policy).
//
// New logic over internal/storage + internal/cache + internal/session;
// the remote IMAP calls (UID STORE for flags, UID COPY + STORE \Deleted +
// EXPUNGE for move/delete) are the standard base-client sequence, chosen
// over the MOVE extension since no example in the pack imports it.
package mutation

import (
	"context"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/classifier"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

// permanentDeleteFolders names the folders where Delete is immediate and
// permanent rather than a move-to-Trash (§4.9).
var permanentDeleteFolders = map[string]bool{
	model.FolderTrash:  true,
	model.FolderSpam:   true,
	model.FolderDrafts: true,
}

// Executor applies mutations for every user sharing the given
// collaborators.
type Executor struct {
	store *storage.Store
	hot   *cache.Cache
	pool  *session.Pool
	log   *zap.Logger
}

// New returns an Executor sharing the given collaborators. A nil log is
// replaced with a no-op logger.
func New(store *storage.Store, hot *cache.Cache, pool *session.Pool, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{store: store, hot: hot, pool: pool, log: log}
}

func parseID(id string) (uid uint32, folder string, err error) {
	uid, folder, ok := model.ParseCompositeID(id)
	if !ok {
		return 0, "", &bridgeerr.ValidationError{Field: "id", Msg: "malformed composite id"}
	}
	return uid, folder, nil
}

// SetRead applies a mark read/unread mutation (§4.9).
func (e *Executor) SetRead(ctx context.Context, user, id string, read bool) error {
	uid, folder, err := parseID(id)
	if err != nil {
		return err
	}
	if err := e.store.SetRead(ctx, id, user, read); err != nil {
		return err
	}
	e.hot.InvalidateMessage(user, id, folder)

	go e.remoteSetSeen(user, folder, uid, read)
	return nil
}

func (e *Executor) remoteSetSeen(user, folder string, uid uint32, read bool) {
	sess, err := e.session(user)
	if err != nil {
		e.log.Warn("remote set-seen: session unavailable", zap.String("user", user), zap.Error(err))
		return
	}
	op := imap.RemoveFlags
	if read {
		op = imap.AddFlags
	}
	err = sess.WithFolder(folder, false, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		return c.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{imap.SeenFlag}, nil)
	})
	if err != nil {
		e.log.Warn("remote set-seen failed, next full sync reconciles",
			zap.String("user", user), zap.String("folder", folder), zap.Uint32("uid", uid), zap.Error(err))
	}
}

// MoveToFolder applies a move-to-folder mutation (§4.9). The local row
// keeps its original composite id (still naming the source folder) until
// the next full sync re-ids it from the destination folder's own UID
// space — an accepted, documented staleness window (§9 Design Notes).
func (e *Executor) MoveToFolder(ctx context.Context, user, id, toFolder string) error {
	uid, fromFolder, err := parseID(id)
	if err != nil {
		return err
	}
	if err := e.store.SetFolder(ctx, id, user, toFolder); err != nil {
		return err
	}
	e.hot.InvalidateMessage(user, id, fromFolder)
	e.hot.DeletePrefix(cache.ClassMailList, cache.MailListPrefix(user, toFolder))

	go e.remoteMove(user, fromFolder, toFolder, uid)
	return nil
}

func (e *Executor) remoteMove(user, fromFolder, toFolder string, uid uint32) {
	sess, err := e.session(user)
	if err != nil {
		e.log.Warn("remote move: session unavailable", zap.String("user", user), zap.Error(err))
		return
	}
	err = sess.WithFolder(fromFolder, false, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		if err := c.UidCopy(seqset, toFolder); err != nil {
			return err
		}
		if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		return c.Expunge(nil)
	})
	if err != nil {
		e.log.Warn("remote move failed, next full sync reconciles",
			zap.String("user", user), zap.String("from", fromFolder), zap.String("to", toFolder),
			zap.Uint32("uid", uid), zap.Error(err))
	}
}

// MoveToCategory applies a smart-tab move (§4.8, §4.9): no remote effect,
// but it reassigns every Inbox message from the same sender (domain or
// full address per the classifier's generic-provider rule) and upserts a
// standing classification rule so future arrivals land in category too.
func (e *Executor) MoveToCategory(ctx context.Context, user, id string, category model.Category) error {
	if _, _, err := parseID(id); err != nil {
		return err
	}
	msg, err := e.store.GetByID(ctx, id, user)
	if err != nil {
		return err
	}
	if err := e.store.SetCategory(ctx, id, user, category); err != nil {
		return err
	}

	value, isDomain := classifier.LearnTarget(msg.From)
	if _, err := e.store.ReassignSenderCategory(ctx, user, value, isDomain, category); err != nil {
		return err
	}
	if err := e.store.PutRule(ctx, model.ClassificationRule{
		User: user, Category: category, Type: model.RuleFrom, Value: value,
	}); err != nil {
		return err
	}

	e.hot.InvalidateInboxCategories(user)
	return nil
}

// Delete applies §4.9's delete mutation: permanent remote delete from
// Trash/Spam/Drafts, otherwise a move to Trash.
func (e *Executor) Delete(ctx context.Context, user, id string) error {
	uid, folder, err := parseID(id)
	if err != nil {
		return err
	}
	if !permanentDeleteFolders[folder] {
		return e.MoveToFolder(ctx, user, id, model.FolderTrash)
	}

	if err := e.store.DeleteEmail(ctx, id, user); err != nil {
		return err
	}
	e.hot.InvalidateMessage(user, id, folder)

	go e.remoteDelete(user, folder, uid)
	return nil
}

func (e *Executor) remoteDelete(user, folder string, uid uint32) {
	sess, err := e.session(user)
	if err != nil {
		e.log.Warn("remote delete: session unavailable", zap.String("user", user), zap.Error(err))
		return
	}
	err = sess.WithFolder(folder, false, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		return c.Expunge(nil)
	})
	if err != nil {
		e.log.Warn("remote delete failed, next full sync reconciles",
			zap.String("user", user), zap.String("folder", folder), zap.Uint32("uid", uid), zap.Error(err))
	}
}

// SetLabel adds or removes labelID from a message's label set (§4.9 label
// add/remove). No remote effect.
func (e *Executor) SetLabel(ctx context.Context, user, id, labelID string, present bool) error {
	msg, err := e.store.GetByID(ctx, id, user)
	if err != nil {
		return err
	}
	labels := msg.Labels
	if labels == nil {
		labels = make(map[string]bool)
	}
	if present {
		labels[labelID] = true
	} else {
		delete(labels, labelID)
	}
	if err := e.store.SetLabels(ctx, id, user, labels); err != nil {
		return err
	}
	e.hot.InvalidateMessage(user, id, msg.Folder)
	return nil
}

func (e *Executor) session(user string) (*session.Session, error) {
	cfg, err := e.store.GetUserConfig(context.Background(), user)
	if err != nil {
		return nil, err
	}
	return e.pool.Get(user, cfg)
}
