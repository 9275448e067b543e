// Package worker implements the Worker Swarm (§4.6): ten goroutines per
// user draining that user's Job Queue, hydrating a message's body and
// attachments from the remote session, and writing the result back
// through the Storage Layer and Hot Cache.
//
// Grounded on spilldb/processor.Processor.Run's loop shape (this package
// generalizes its single cancel-context+ticker actor into N per-user
// worker goroutines pulling from internal/queue instead of scanning a
// sqlite staging table).
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"crawshaw.io/iox"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/attachment"
	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/proxy"
	"github.com/highkick05/mailboy-sub000/internal/queue"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/storage"
)

// numWorkers is the per-user swarm size (§4.6: "ten workers per user").
const numWorkers = 10

// idleThreshold is how long a worker must be idle before pinging its
// session (§4.6).
const idleThreshold = 25 * time.Second

// pollInterval is how long an idle worker waits before re-polling an
// empty queue.
const pollInterval = 300 * time.Millisecond

// previewLen is the truncation length for the plain-text preview (§4.6).
const previewLen = 160

// Deps bundles every collaborator a worker needs to hydrate a message.
type Deps struct {
	User        string
	Config      model.UserConfig
	Pool        *session.Pool
	Queue       *queue.Queue
	Store       *storage.Store
	Hot         *cache.Cache
	Attachments attachment.Store
	Filer       *iox.Filer
	Log         *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Swarm owns the goroutines processing one user's Job Queue. Stop drains
// in-flight jobs and terminates every worker (§4.6's systemRunning flag).
type Swarm struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches numWorkers goroutines pulling jobs from deps.Queue.
func Start(ctx context.Context, deps Deps) *Swarm {
	ctx, cancel := context.WithCancel(ctx)
	s := &Swarm{cancel: cancel}
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			runWorker(ctx, deps)
		}(i)
	}
	return s
}

// Stop terminates the swarm, waiting for in-flight jobs to finish. A
// worker already mid-job runs it to completion before observing ctx.Done
// (§4.6: "drain current work and terminate").
func (s *Swarm) Stop() {
	s.cancel()
	s.wg.Wait()
}

func runWorker(ctx context.Context, deps Deps) {
	idleSince := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		job := deps.Queue.Pop()
		if job == nil {
			if time.Since(idleSince) >= idleThreshold {
				pingSession(deps)
				idleSince = time.Now()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		idleSince = time.Now()

		if err := hydrate(ctx, deps, *job); err != nil {
			if isRetryable(err) {
				deps.logger().Warn("hydrate retry",
					zap.String("user", deps.User), zap.String("id", job.ID),
					zap.Int("attempts", job.Attempts), zap.Error(err))
				if errors.Is(err, bridgeerr.ErrRemoteTransient) {
					deps.Pool.Drop(deps.User)
				}
				deps.Queue.Retry(*job)
			} else {
				deps.logger().Error("hydrate failed permanently",
					zap.String("user", deps.User), zap.String("id", job.ID), zap.Error(err))
				deps.Queue.Done(job.ID)
			}
			continue
		}
		deps.Queue.Done(job.ID)
	}
}

func pingSession(deps Deps) {
	s, err := deps.Pool.Get(deps.User, deps.Config)
	if err != nil {
		return
	}
	s.Ping()
}

func isRetryable(err error) bool {
	return errors.Is(err, bridgeerr.ErrRemoteTransient) || errors.Is(err, bridgeerr.ErrRemoteOverloaded)
}

// hydrate performs §4.6's per-job work: acquire the session, select the
// job's folder, fetch envelope+body structure for its UID, pick the best
// body part, rewrite inline images, compute a preview, download
// attachments, and upsert the hydrated message.
func hydrate(ctx context.Context, deps Deps, job model.Job) error {
	sess, err := deps.Pool.Get(deps.User, deps.Config)
	if err != nil {
		return err
	}

	var body, preview string
	var atts []model.Attachment

	err = sess.WithFolder(job.Data.Folder, true, func(c *imapclient.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(job.Data.UID)

		msg, err := fetchOne(c, seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchBodyStructure})
		if err != nil {
			return err
		}
		if msg == nil || msg.BodyStructure == nil {
			return bridgeerr.ErrNotFound
		}

		path, mimeType := bestBodyPart(msg.BodyStructure)
		section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Path: path}, Peek: true}

		bodyMsg, err := fetchOne(c, seqset, []imap.FetchItem{section.FetchItem()})
		if err != nil {
			return err
		}
		if bodyMsg == nil {
			return bridgeerr.ErrNotFound
		}
		r := bodyMsg.GetBody(section)
		if r == nil {
			return bridgeerr.ErrNotFound
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: read body %d: %v", bridgeerr.ErrRemoteTransient, job.Data.UID, err)
		}

		rewritten := raw
		if strings.EqualFold(mimeType, "text/html") {
			out, rerr := proxy.RewriteImages(deps.Filer, bytes.NewReader(raw))
			if rerr == nil {
				defer out.Close()
				if b, rerr2 := io.ReadAll(out); rerr2 == nil {
					rewritten = b
				}
			}
		}

		body = string(rewritten)
		preview = computePreview(rewritten)

		downloaded, err := downloadAttachments(ctx, deps, c, seqset, msg.BodyStructure)
		if err != nil {
			return err
		}
		atts = downloaded
		return nil
	})
	if err != nil {
		return err
	}

	id := model.CompositeID(job.Data.UID, job.Data.Folder)
	if err := deps.Store.UpdateHydration(ctx, id, deps.User, body, preview, atts); err != nil {
		return err
	}
	deps.Hot.InvalidateMessage(deps.User, id, job.Data.Folder)
	return nil
}

// fetchOne runs a UID FETCH for a single seqset member and returns its one
// result message, wrapping transport errors as ErrRemoteTransient.
func fetchOne(c *imapclient.Client, seqset *imap.SeqSet, items []imap.FetchItem) (*imap.Message, error) {
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqset, items, messages) }()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: uid fetch: %v", bridgeerr.ErrRemoteTransient, err)
	}
	return msg, nil
}

// bestBodyPart walks structure per §4.6: first text/html, else first
// text/plain, else part 1. Returns the IMAP body section path and the
// chosen part's MIME type.
func bestBodyPart(structure *imap.BodyStructure) ([]int, string) {
	if _, htmlPath, ok := findPart(structure, nil, "text", "html"); ok {
		return htmlPath, "text/html"
	}
	if _, plainPath, ok := findPart(structure, nil, "text", "plain"); ok {
		return plainPath, "text/plain"
	}
	return []int{1}, strings.ToLower(structure.MIMEType + "/" + structure.MIMESubType)
}

func findPart(bs *imap.BodyStructure, prefix []int, mimeType, mimeSubType string) (*imap.BodyStructure, []int, bool) {
	if bs == nil {
		return nil, nil, false
	}
	if len(bs.Parts) == 0 {
		if strings.EqualFold(bs.MIMEType, mimeType) && strings.EqualFold(bs.MIMESubType, mimeSubType) {
			p := prefix
			if len(p) == 0 {
				p = []int{1}
			}
			return bs, p, true
		}
		return nil, nil, false
	}
	for i, part := range bs.Parts {
		childPath := append(append([]int{}, prefix...), i+1)
		if found, p, ok := findPart(part, childPath, mimeType, mimeSubType); ok {
			return found, p, true
		}
	}
	return nil, nil, false
}

// computePreview strips tags, collapses whitespace, and truncates to
// previewLen runes (§4.6).
var tagRE = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
var wsRE = regexp.MustCompile(`\s+`)

func computePreview(raw []byte) string {
	stripped := tagRE.ReplaceAllString(string(raw), " ")
	collapsed := strings.TrimSpace(wsRE.ReplaceAllString(stripped, " "))
	runes := []rune(collapsed)
	if len(runes) <= previewLen {
		return collapsed
	}
	return string(runes[:previewLen])
}

// downloadAttachments recursively walks structure for attachment and
// inline-with-filename parts, streaming each into deps.Attachments under
// a unique key (§4.6: "<ts>-<rand>-<sanitized_name>").
func downloadAttachments(ctx context.Context, deps Deps, c *imapclient.Client, seqset *imap.SeqSet, bs *imap.BodyStructure) ([]model.Attachment, error) {
	var out []model.Attachment
	for _, ap := range collectAttachmentParts(bs, nil) {
		section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Path: ap.path}, Peek: true}
		msg, err := fetchOne(c, seqset, []imap.FetchItem{section.FetchItem()})
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		key := UniqueKey(ap.filename)
		if err := deps.Attachments.Put(ctx, key, r); err != nil {
			return nil, err
		}
		out = append(out, model.Attachment{
			Filename: ap.filename,
			BlobKey:  key,
			Size:     int64(ap.size),
			MimeType: strings.ToLower(ap.mimeType + "/" + ap.mimeSubType),
		})
	}
	return out, nil
}

type attachmentPart struct {
	path        []int
	filename    string
	mimeType    string
	mimeSubType string
	size        uint32
}

func collectAttachmentParts(bs *imap.BodyStructure, prefix []int) []attachmentPart {
	if bs == nil {
		return nil
	}
	if len(bs.Parts) == 0 {
		name := partFilename(bs)
		isAttachment := strings.EqualFold(bs.Disposition, "attachment")
		isInlineNamed := strings.EqualFold(bs.Disposition, "inline") && name != ""
		if (isAttachment || isInlineNamed) && name != "" {
			p := prefix
			if len(p) == 0 {
				p = []int{1}
			}
			return []attachmentPart{{path: p, filename: name, mimeType: bs.MIMEType, mimeSubType: bs.MIMESubType, size: bs.Size}}
		}
		return nil
	}
	var out []attachmentPart
	for i, part := range bs.Parts {
		childPath := append(append([]int{}, prefix...), i+1)
		out = append(out, collectAttachmentParts(part, childPath)...)
	}
	return out
}

func partFilename(bs *imap.BodyStructure) string {
	if name, ok := bs.DispositionParams["filename"]; ok && name != "" {
		return sanitizeFilename(name)
	}
	if name, ok := bs.Params["name"]; ok && name != "" {
		return sanitizeFilename(name)
	}
	return ""
}

var unsafeFilenameRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeFilename(name string) string {
	return unsafeFilenameRE.ReplaceAllString(name, "_")
}

// UniqueKey builds the "<ts>-<rand>-<sanitized_name>" attachment store key
// (§4.6). Exported so other writers into the same attachment store (the
// HTTP surface's outgoing-mail handlers) use an identical key shape.
func UniqueKey(filename string) string {
	return fmt.Sprintf("%d-%d-%s", time.Now().UnixNano(), rand.Int63(), sanitizeFilename(filename))
}
