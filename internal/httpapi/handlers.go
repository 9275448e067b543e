package httpapi

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
	"github.com/highkick05/mailboy-sub000/internal/session"
	"github.com/highkick05/mailboy-sub000/internal/worker"
)

// maxUploadMemory bounds how much of a multipart body is buffered in
// memory before spilling to temp files (stdlib mime/multipart's own
// threshold knob); 16MiB covers typical attachment batches.
const maxUploadMemory = 16 << 20

func nowMillis() int64 { return time.Now().UnixMilli() }

// --- /config/save -----------------------------------------------------

// handleConfigSave implements §6 POST /config/save. "Seeds default
// promotion rules" is satisfied by the classifier's own built-in keyword
// fallback (internal/classifier's defaultKeywords) rather than inserted
// SmartRules rows: no standing rule is needed until a user first acts on
// a message, per §4.8's "ordered checks, first match wins" design.
func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	var cfg model.UserConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if cfg.User == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "user", Msg: "required"})
		return
	}
	if err := s.engine.Store.PutUserConfig(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}

	go func() {
		if err := s.engine.Start(r.Context(), cfg); err != nil {
			s.log.Warn("start after config save failed", zap.String("user", cfg.User), zap.Error(err))
		}
	}()

	writeJSON(w, map[string]string{"status": "ok"})
}

// --- /mail/sync ---------------------------------------------------------

// handleMailSync implements §6 POST /mail/sync: body is a full config,
// triggering §4.7's quick-or-full sync decision. Started asynchronously
// so the request doesn't block on a potentially long full sync; progress
// is polled via GET /sync/status.
func (s *Server) handleMailSync(w http.ResponseWriter, r *http.Request) {
	var cfg model.UserConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if cfg.User == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "user", Msg: "required"})
		return
	}
	if err := s.engine.Store.PutUserConfig(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}

	sync := s.engine.Sync(cfg.User)
	if sync == nil {
		go func() {
			if err := s.engine.Start(context.Background(), cfg); err != nil {
				s.log.Warn("start for sync failed", zap.String("user", cfg.User), zap.Error(err))
			}
		}()
	} else {
		go func() {
			if err := sync.RunInitial(context.Background(), cfg.User, cfg); err != nil {
				s.log.Warn("requested sync failed", zap.String("user", cfg.User), zap.Error(err))
			}
		}()
	}

	writeJSON(w, map[string]string{"status": "started"})
}

// --- /sync/status ---------------------------------------------------------

type syncStatusResponse struct {
	Status  string      `json:"status"`
	Percent int         `json:"percent"`
	Queue   queueCounts `json:"queue"`
}

type queueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// handleSyncStatus implements §6 GET /sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "user", Msg: "required"})
		return
	}

	progress := cache.SyncProgress{Status: "IDLE", Percent: 0}
	if v, ok := s.engine.Hot.Get(cache.ClassSyncProgress, cache.SyncProgressKey(user)); ok {
		if p, ok := v.(cache.SyncProgress); ok {
			progress = p
		}
	}

	resp := syncStatusResponse{Status: progress.Status, Percent: progress.Percent}
	if q := s.engine.Queue(user); q != nil {
		stats := q.Stats()
		resp.Queue = queueCounts{Pending: stats.Pending, Processing: stats.Processing}
	}
	writeJSON(w, resp)
}

// --- /mail/list ---------------------------------------------------------

// messageSummary is the trimmed shape GET /mail/list returns: list views
// never need the full body, only enough to render a row (§6: "up to 100
// message summaries").
type messageSummary struct {
	ID              string          `json:"id"`
	From            string          `json:"from"`
	FromName        string          `json:"fromName"`
	Subject         string          `json:"subject"`
	Preview         string          `json:"preview"`
	Timestamp       int64           `json:"timestamp"`
	Read            bool            `json:"read"`
	Folder          string          `json:"folder"`
	Category        model.Category  `json:"category,omitempty"`
	Labels          map[string]bool `json:"labels"`
	AttachmentCount int             `json:"attachmentCount"`
}

func toSummary(m model.Message) messageSummary {
	return messageSummary{
		ID: m.ID, From: m.From, FromName: m.FromName, Subject: m.Subject,
		Preview: m.Preview, Timestamp: m.Timestamp, Read: m.Read, Folder: m.Folder,
		Category: m.Category, Labels: m.Labels, AttachmentCount: len(m.Attachments),
	}
}

// handleMailList implements §6 GET /mail/list, cache-aside over the Hot
// Cache's mail_list class (§4.2).
func (s *Server) handleMailList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	folder := r.URL.Query().Get("folder")
	category := r.URL.Query().Get("category")
	if user == "" || folder == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "folder", Msg: "user and folder are required"})
		return
	}

	key := cache.MailListKey(user, folder, category)
	if v, ok := s.engine.Hot.Get(cache.ClassMailList, key); ok {
		if list, ok := v.([]messageSummary); ok {
			writeJSON(w, list)
			return
		}
	}

	msgs, err := s.engine.Store.ListByFolder(r.Context(), user, folder, category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	list := make([]messageSummary, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, toSummary(m))
	}
	s.engine.Hot.Set(cache.ClassMailList, key, list)
	writeJSON(w, list)
}

// --- /mail/:id ---------------------------------------------------------

// handleMailGet implements §6 GET /mail/:id via the three-tier Read Path.
func (s *Server) handleMailGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := r.URL.Query().Get("user")
	if user == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "user", Msg: "required"})
		return
	}

	reader := s.engine.Read(user)
	if reader == nil {
		s.writeError(w, bridgeerr.ErrBridgeOffline)
		return
	}
	result, err := reader.Fetch(r.Context(), id, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"email": result.Message, "source": result.Source})
}

// --- /mail/mark ---------------------------------------------------------

type markRequest struct {
	ID   string `json:"id"`
	User string `json:"user"`
	Read bool   `json:"read"`
}

func (s *Server) handleMailMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if err := s.engine.Mutate.SetRead(r.Context(), req.User, req.ID, req.Read); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- /mail/move ---------------------------------------------------------

type moveRequest struct {
	EmailID      string `json:"emailId"`
	User         string `json:"user"`
	TargetFolder string `json:"targetFolder"`
}

var categoryNames = map[string]model.Category{
	string(model.CategoryPrimary):    model.CategoryPrimary,
	string(model.CategorySocial):     model.CategorySocial,
	string(model.CategoryUpdates):    model.CategoryUpdates,
	string(model.CategoryPromotions): model.CategoryPromotions,
}

// handleMailMove implements §6 POST /mail/move: targetFolder is either a
// canonical folder name (a real move, §4.9) or one of the four category
// names (a smart-tab move, §4.8/§4.9).
func (s *Server) handleMailMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	var err error
	if cat, ok := categoryNames[req.TargetFolder]; ok {
		err = s.engine.Mutate.MoveToCategory(r.Context(), req.User, req.EmailID, cat)
	} else {
		err = s.engine.Mutate.MoveToFolder(r.Context(), req.User, req.EmailID, req.TargetFolder)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- /mail/batch-delete ---------------------------------------------------

type batchDeleteRequest struct {
	IDs  []string `json:"ids"`
	User string   `json:"user"`
}

// handleMailBatchDelete implements §6 POST /mail/batch-delete: every id
// is deleted independently (a permanent delete or a move-to-Trash,
// depending on its folder, per Executor.Delete) so one bad id doesn't
// block the rest of the batch.
func (s *Server) handleMailBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	deleted := 0
	for _, id := range req.IDs {
		if err := s.engine.Mutate.Delete(r.Context(), req.User, id); err != nil {
			s.log.Warn("batch delete: one id failed", zap.String("user", req.User), zap.String("id", id), zap.Error(err))
			continue
		}
		deleted++
	}
	writeJSON(w, map[string]any{"status": "ok", "deleted": deleted})
}

// --- /mail/send ---------------------------------------------------------

// sendPayload is the "payload" multipart field's JSON shape for
// POST /mail/send.
type sendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	DraftID string   `json:"draftId,omitempty"`
	// ExistingAttachments names blob keys already in the attachment store
	// (e.g. carried over from a staged draft) to include alongside
	// anything uploaded fresh in this same request.
	ExistingAttachments []string `json:"existingAttachments,omitempty"`
}

// handleMailSend implements §6 POST /mail/send: multipart auth+payload+
// files, SMTP-AUTH submission via internal/session.Submit, then (on
// success, if draftId was given) best-effort cleanup of the sent draft's
// remote and local copies plus a short-TTL draft_send cache key recording
// the send. GET /mail/list does not read that key, so it does not filter
// the Drafts list.
func (s *Server) handleMailSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	var auth model.UserConfig
	if err := json.Unmarshal([]byte(r.FormValue("auth")), &auth); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "auth", Msg: err.Error()})
		return
	}
	var payload sendPayload
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &payload); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "payload", Msg: err.Error()})
		return
	}
	if auth.User == "" || len(payload.To) == 0 {
		s.writeError(w, &bridgeerr.ValidationError{Field: "payload", Msg: "user and at least one recipient are required"})
		return
	}

	newKeys, err := s.storeUploads(r.Context(), r.MultipartForm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blobKeys := append(append([]string{}, payload.ExistingAttachments...), newKeys...)

	raw, err := composeOutgoing(outgoingMessage{
		From: payload.From, To: payload.To, Subject: payload.Subject, Body: payload.Body,
	}, blobKeys, s.engine.Attachments)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := session.Submit(r.Context(), auth, payload.From, payload.To, raw.Bytes()); err != nil {
		s.writeError(w, err)
		return
	}

	if payload.DraftID != "" {
		s.cleanupSentDraft(r.Context(), auth.User, payload.DraftID)
	}
	writeJSON(w, map[string]string{"status": "sent"})
}

// cleanupSentDraft is best-effort: any failure here just means the next
// full sync reconciles the leftover draft, per §4.9's stated failure
// policy for remote effects.
func (s *Server) cleanupSentDraft(ctx context.Context, user, draftID string) {
	s.engine.Hot.SuppressDraftSend(user, draftID)
	s.engine.Hot.Delete(cache.ClassDraftStage, cache.DraftStageKey(user, draftID))

	d, err := s.engine.Store.GetDraftStaging(ctx, user, draftID)
	if err != nil {
		return
	}
	if d.RemoteUID != nil {
		id := model.CompositeID(*d.RemoteUID, model.FolderDrafts)
		if err := s.engine.Mutate.Delete(ctx, user, id); err != nil {
			s.log.Warn("cleanup sent draft: remote delete failed", zap.String("user", user),
				zap.String("draftId", draftID), zap.Error(err))
		}
	}
	if err := s.engine.Store.DeleteDraftStaging(ctx, user, draftID); err != nil {
		s.log.Warn("cleanup sent draft: clearing staging row failed", zap.String("user", user),
			zap.String("draftId", draftID), zap.Error(err))
	}
}

// --- /mail/draft ---------------------------------------------------------

// handleMailDraft implements §6 POST /mail/draft: stage a draft save for
// the Draft Uplink's next cycle to drain, echoing it into the Hot
// Cache's draft_stage class immediately so a client that re-fetches its
// own draft right away doesn't have to wait for the uplink.
func (s *Server) handleMailDraft(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	user := r.FormValue("user")
	if user == "" {
		s.writeError(w, &bridgeerr.ValidationError{Field: "user", Msg: "required"})
		return
	}
	clientDraftID := r.FormValue("id")
	if clientDraftID == "" {
		clientDraftID = uuid.NewString()
	}

	var existing []string
	if raw := r.FormValue("existingAttachments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			s.writeError(w, &bridgeerr.ValidationError{Field: "existingAttachments", Msg: err.Error()})
			return
		}
	}
	newKeys, err := s.storeUploads(r.Context(), r.MultipartForm)
	if err != nil {
		s.writeError(w, err)
		return
	}

	from := ""
	if cfg, err := s.engine.Store.GetUserConfig(r.Context(), user); err == nil {
		from = cfg.User
	}

	d := model.DraftStaging{
		User:              user,
		ClientDraftID:     clientDraftID,
		From:              from,
		To:                r.Form["to"],
		Subject:           r.FormValue("subject"),
		Body:              r.FormValue("body"),
		NewAttachmentKeys: newKeys,
		ExistingBlobKeys:  existing,
		StagedAtMillis:    nowMillis(),
	}
	if err := s.engine.Store.PutDraftStaging(r.Context(), d); err != nil {
		s.writeError(w, err)
		return
	}
	s.engine.Hot.Set(cache.ClassDraftStage, cache.DraftStageKey(user, clientDraftID), d)

	writeJSON(w, map[string]string{"id": clientDraftID})
}

// storeUploads persists every file under the "files" multipart field
// into the attachment store, using the same "<ts>-<rand>-<sanitized_name>"
// key shape the Worker Swarm uses for inbound attachments.
func (s *Server) storeUploads(ctx context.Context, form *multipart.Form) ([]string, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File["files"]
	keys := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		key := worker.UniqueKey(fh.Filename)
		err = s.engine.Attachments.Put(ctx, key, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// --- /labels ---------------------------------------------------------

func (s *Server) handleLabelsList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	labels, err := s.engine.Store.ListLabels(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, labels)
}

type labelRequest struct {
	User  string `json:"user"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleLabelsPut(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	label, err := s.engine.Store.PutLabel(r.Context(), req.User, req.Name, req.Color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, label)
}

type labelDeleteRequest struct {
	User string `json:"user"`
	ID   string `json:"id"`
}

func (s *Server) handleLabelsDelete(w http.ResponseWriter, r *http.Request) {
	var req labelDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if err := s.engine.Store.DeleteLabel(r.Context(), req.User, req.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- /smart-rules ---------------------------------------------------------

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	rules, err := s.engine.Store.ListRules(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rules)
}

func (s *Server) handleRulesPut(w http.ResponseWriter, r *http.Request) {
	var rule model.ClassificationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if err := s.engine.Store.PutRule(r.Context(), rule); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type ruleDeleteRequest struct {
	User     string         `json:"user"`
	Category model.Category `json:"category"`
	Value    string         `json:"value"`
}

func (s *Server) handleRulesDelete(w http.ResponseWriter, r *http.Request) {
	var req ruleDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &bridgeerr.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if err := s.engine.Store.DeleteRule(r.Context(), req.User, req.Category, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- /debug/reset ---------------------------------------------------------

func (s *Server) handleDebugReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
