// Package storage implements the Storage Layer (§4.1): the durable,
// relational-free document store for messages, user config, labels, and
// classification rules, with the secondary indices §4.1 requires.
//
// Grounded on spilldb/db.go: a crawshaw.io/sqlite connection pool, plain
// prepared statements, and a createSQL migration script, generalized from
// the teacher's own relational schema (accounts/devices/messages-to-send)
// to this spec's document collections.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

// Store is the Storage Layer handle. It is safe for concurrent use.
type Store struct {
	pool *sqlitex.Pool
}

// Open creates/opens the sqlite-backed store at dbfile ("file::memory:?mode=memory&cache=shared"
// is the conventional in-memory DSN used by tests, following
// spilldb/webcache's own test setup).
//
// Any failure to open is fatal at startup per §4.1 — the caller should
// treat a non-nil error here as unrecoverable.
func Open(dbfile string) (*Store, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", bridgeerr.ErrBridgeOffline, err)
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: migrate: %v", bridgeerr.ErrBridgeOffline, err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("%w: close init conn: %v", bridgeerr.ErrBridgeOffline, err)
	}

	pool, err := sqlitex.Open(dbfile, 0, 24)
	if err != nil {
		return nil, fmt.Errorf("%w: pool: %v", bridgeerr.ErrBridgeOffline, err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) conn(ctx context.Context) (*sqlite.Conn, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, fmt.Errorf("%w: pool exhausted or context done", bridgeerr.ErrBridgeOffline)
	}
	return conn, nil
}

// --- Emails ---------------------------------------------------------------

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var ss []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &ss)
	return ss
}

func marshalLabels(labels map[string]bool) string {
	ids := make([]string, 0, len(labels))
	for id, on := range labels {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return marshalStrings(ids)
}

func unmarshalLabels(s string) map[string]bool {
	ids := unmarshalStrings(s)
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func marshalAttachments(atts []model.Attachment) string {
	if atts == nil {
		atts = []model.Attachment{}
	}
	b, _ := json.Marshal(atts)
	return string(b)
}

func unmarshalAttachments(s string) []model.Attachment {
	var atts []model.Attachment
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &atts)
	return atts
}

// UpsertEnvelope inserts a new envelope-only row or, if one already exists
// for msg.ID, refreshes only its mutable fields (Read, Timestamp is left
// alone since it's immutable). Immutable envelope fields (From, FromName,
// Subject, UID, User, Folder, To) are filled only on insert — the
// $setOnInsert half of §4.1's upsert semantics. Body/Preview/IsFullBody/
// Attachments are left untouched here; use UpdateHydration for those.
func (s *Store) UpsertEnvelope(ctx context.Context, msg model.Message) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`
		INSERT INTO Emails (
			ID, UID, User, Folder, Timestamp,
			FromAddr, FromName, NormFromName, ToAddrs, Subject,
			Body, Preview, IsFullBody, Read, Labels, Category, Attachments
		) VALUES (
			$id, $uid, $user, $folder, $timestamp,
			$from, $fromName, $normFromName, $to, $subject,
			'', '', 0, $read, '[]', $category, '[]'
		)
		ON CONFLICT(ID) DO UPDATE SET
			Read = excluded.Read;
	`)
	stmt.SetText("$id", msg.ID)
	stmt.SetInt64("$uid", int64(msg.UID))
	stmt.SetText("$user", msg.User)
	stmt.SetText("$folder", msg.Folder)
	stmt.SetInt64("$timestamp", msg.Timestamp)
	stmt.SetText("$from", msg.From)
	stmt.SetText("$fromName", msg.FromName)
	stmt.SetText("$normFromName", msg.NormFromName)
	stmt.SetText("$to", marshalStrings(msg.To))
	stmt.SetText("$subject", msg.Subject)
	stmt.SetBool("$read", msg.Read)
	stmt.SetText("$category", string(msg.Category))
	_, err = stmt.Step()
	return err
}

// UpdateHydration sets the body/preview/attachments fields produced by the
// worker swarm (§4.6) after a successful fetch.
func (s *Store) UpdateHydration(ctx context.Context, id, user, body, preview string, attachments []model.Attachment) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`
		UPDATE Emails SET Body = $body, Preview = $preview, IsFullBody = $isFullBody, Attachments = $attachments
		WHERE ID = $id AND User = $user;
	`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	stmt.SetText("$body", body)
	stmt.SetText("$preview", preview)
	// An empty body means hydration fetched nothing worth showing (e.g. a
	// body part that came back blank); leaving IsFullBody false here keeps
	// read-path invariant 1 (hydrated implies has content) intact instead
	// of marking a contentless row as done.
	stmt.SetBool("$isFullBody", body != "")
	stmt.SetText("$attachments", marshalAttachments(attachments))
	_, err = stmt.Step()
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return bridgeerr.ErrNotFound
	}
	return nil
}

// SetRead updates the read flag for id (§4.9 mark read/unread).
func (s *Store) SetRead(ctx context.Context, id, user string, read bool) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Emails SET Read = $read WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	stmt.SetBool("$read", read)
	_, err = stmt.Step()
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return bridgeerr.ErrNotFound
	}
	return nil
}

// SetFolder moves a message to a new canonical folder (§4.9 move).
func (s *Store) SetFolder(ctx context.Context, id, user, folder string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Emails SET Folder = $folder WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	stmt.SetText("$folder", folder)
	_, err = stmt.Step()
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return bridgeerr.ErrNotFound
	}
	return nil
}

// SetCategory updates the smart-tab category for a single message (§4.8).
func (s *Store) SetCategory(ctx context.Context, id, user string, category model.Category) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Emails SET Category = $category WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	stmt.SetText("$category", string(category))
	_, err = stmt.Step()
	return err
}

// ReassignSenderCategory reassigns every Inbox message from fromAddrOrDomain
// (an exact address or a bare domain) to category, per the classifier's
// learning rule (§4.8). matchDomain controls whether fromAddrOrDomain is
// matched against the domain part of FromAddr or the full address.
func (s *Store) ReassignSenderCategory(ctx context.Context, user, fromAddrOrDomain string, matchDomain bool, category model.Category) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	var stmt *sqlite.Stmt
	if matchDomain {
		stmt = conn.Prep(`
			UPDATE Emails SET Category = $category
			WHERE User = $user AND Folder = $folder
			  AND FromAddr LIKE '%' || $domain;
		`)
		stmt.SetText("$domain", "@"+fromAddrOrDomain)
	} else {
		stmt = conn.Prep(`
			UPDATE Emails SET Category = $category
			WHERE User = $user AND Folder = $folder AND FromAddr = $addr;
		`)
		stmt.SetText("$addr", fromAddrOrDomain)
	}
	stmt.SetText("$user", user)
	stmt.SetText("$folder", model.FolderInbox)
	stmt.SetText("$category", string(category))
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	return conn.Changes(), nil
}

// SetLabels replaces the full label-id set for a message (§4.9 label add/remove).
func (s *Store) SetLabels(ctx context.Context, id, user string, labels map[string]bool) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Emails SET Labels = $labels WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	stmt.SetText("$labels", marshalLabels(labels))
	_, err = stmt.Step()
	return err
}

// DeleteEmail permanently removes a message row (§4.9 delete).
func (s *Store) DeleteEmail(ctx context.Context, id, user string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`DELETE FROM Emails WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	_, err = stmt.Step()
	return err
}

func scanEmail(stmt *sqlite.Stmt) model.Message {
	return model.Message{
		ID:           stmt.GetText("ID"),
		UID:          uint32(stmt.GetInt64("UID")),
		User:         stmt.GetText("User"),
		Folder:       stmt.GetText("Folder"),
		Timestamp:    stmt.GetInt64("Timestamp"),
		From:         stmt.GetText("FromAddr"),
		FromName:     stmt.GetText("FromName"),
		NormFromName: stmt.GetText("NormFromName"),
		To:           unmarshalStrings(stmt.GetText("ToAddrs")),
		Subject:      stmt.GetText("Subject"),
		Body:         stmt.GetText("Body"),
		Preview:      stmt.GetText("Preview"),
		IsFullBody:   stmt.GetInt64("IsFullBody") != 0,
		Read:         stmt.GetInt64("Read") != 0,
		Labels:       unmarshalLabels(stmt.GetText("Labels")),
		Category:     model.Category(stmt.GetText("Category")),
		Attachments:  unmarshalAttachments(stmt.GetText("Attachments")),
	}
}

const emailColumns = `ID, UID, User, Folder, Timestamp, FromAddr, FromName, NormFromName, ToAddrs, Subject,
	Body, Preview, IsFullBody, Read, Labels, Category, Attachments`

// GetByID returns the message row for id, or bridgeerr.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id, user string) (model.Message, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return model.Message{}, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT ` + emailColumns + ` FROM Emails WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	hasRow, err := stmt.Step()
	if err != nil {
		return model.Message{}, err
	}
	if !hasRow {
		stmt.Reset()
		return model.Message{}, bridgeerr.ErrNotFound
	}
	msg := scanEmail(stmt)
	stmt.Reset()
	return msg, nil
}

// IsFullBody is a field-projection query (§4.1) used by the read path to
// avoid deserializing the whole row just to check hydration state.
func (s *Store) IsFullBody(ctx context.Context, id, user string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT IsFullBody FROM Emails WHERE ID = $id AND User = $user;`)
	stmt.SetText("$id", id)
	stmt.SetText("$user", user)
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	if !hasRow {
		stmt.Reset()
		return false, bridgeerr.ErrNotFound
	}
	full := stmt.GetInt64("IsFullBody") != 0
	stmt.Reset()
	return full, nil
}

// ListByFolder returns up to 100 messages for (user, folder) newest first,
// per the primary list ordering (§3). If category is non-empty, results
// are further restricted to that Inbox smart tab.
func (s *Store) ListByFolder(ctx context.Context, user, folder, category string) ([]model.Message, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	q := `SELECT ` + emailColumns + ` FROM Emails WHERE User = $user AND Folder = $folder`
	if category != "" {
		q += ` AND Category = $category`
	}
	q += ` ORDER BY Timestamp DESC LIMIT 100;`

	stmt := conn.Prep(q)
	stmt.SetText("$user", user)
	stmt.SetText("$folder", folder)
	if category != "" {
		stmt.SetText("$category", category)
	}

	var out []model.Message
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, scanEmail(stmt))
	}
	return out, nil
}

// ListUIDsByFolder returns every UID currently stored for (user, folder),
// used by the draft uplink to diff against the remote Drafts listing.
func (s *Store) ListUIDsByFolder(ctx context.Context, user, folder string) (map[uint32]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT ID, UID FROM Emails WHERE User = $user AND Folder = $folder;`)
	stmt.SetText("$user", user)
	stmt.SetText("$folder", folder)

	out := make(map[uint32]string)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out[uint32(stmt.GetInt64("UID"))] = stmt.GetText("ID")
	}
	return out, nil
}

// CountByFolder returns how many messages are stored locally for
// (user, folder), used by the sync orchestrator to pick quick vs. full sync.
func (s *Store) CountByFolder(ctx context.Context, user, folder string) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT COUNT(*) AS N FROM Emails WHERE User = $user AND Folder = $folder;`)
	stmt.SetText("$user", user)
	stmt.SetText("$folder", folder)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	n := int(stmt.GetInt64("N"))
	stmt.Reset()
	return n, nil
}

// --- UserConfigs ------------------------------------------------------------

// PutUserConfig upserts a user's config row (§6 POST /config/save).
func (s *Store) PutUserConfig(ctx context.Context, cfg model.UserConfig) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`
		INSERT INTO UserConfigs (User, IMAPHost, IMAPPort, SMTPHost, SMTPPort, Pass, UseTLS, SetupComplete, LastSync)
		VALUES ($user, $imapHost, $imapPort, $smtpHost, $smtpPort, $pass, $useTLS, $setupComplete, $lastSync)
		ON CONFLICT(User) DO UPDATE SET
			IMAPHost = excluded.IMAPHost, IMAPPort = excluded.IMAPPort,
			SMTPHost = excluded.SMTPHost, SMTPPort = excluded.SMTPPort,
			Pass = excluded.Pass, UseTLS = excluded.UseTLS;
	`)
	stmt.SetText("$user", cfg.User)
	stmt.SetText("$imapHost", cfg.IMAPHost)
	stmt.SetInt64("$imapPort", int64(cfg.IMAPPort))
	stmt.SetText("$smtpHost", cfg.SMTPHost)
	stmt.SetInt64("$smtpPort", int64(cfg.SMTPPort))
	stmt.SetText("$pass", cfg.Pass)
	stmt.SetBool("$useTLS", cfg.UseTLS)
	stmt.SetBool("$setupComplete", cfg.SetupComplete)
	stmt.SetInt64("$lastSync", cfg.LastSync)
	_, err = stmt.Step()
	return err
}

// MarkSyncComplete sets setupComplete=true and lastSync=now, per §4.7.
func (s *Store) MarkSyncComplete(ctx context.Context, user string, lastSyncMillis int64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE UserConfigs SET SetupComplete = 1, LastSync = $lastSync WHERE User = $user;`)
	stmt.SetText("$user", user)
	stmt.SetInt64("$lastSync", lastSyncMillis)
	_, err = stmt.Step()
	return err
}

// GetUserConfig returns the stored config for user, or bridgeerr.ErrNotFound.
func (s *Store) GetUserConfig(ctx context.Context, user string) (model.UserConfig, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return model.UserConfig{}, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT User, IMAPHost, IMAPPort, SMTPHost, SMTPPort, Pass, UseTLS, SetupComplete, LastSync
		FROM UserConfigs WHERE User = $user;`)
	stmt.SetText("$user", user)
	hasRow, err := stmt.Step()
	if err != nil {
		return model.UserConfig{}, err
	}
	if !hasRow {
		stmt.Reset()
		return model.UserConfig{}, bridgeerr.ErrNotFound
	}
	cfg := model.UserConfig{
		User:          stmt.GetText("User"),
		IMAPHost:      stmt.GetText("IMAPHost"),
		IMAPPort:      int(stmt.GetInt64("IMAPPort")),
		SMTPHost:      stmt.GetText("SMTPHost"),
		SMTPPort:      int(stmt.GetInt64("SMTPPort")),
		Pass:          stmt.GetText("Pass"),
		UseTLS:        stmt.GetInt64("UseTLS") != 0,
		SetupComplete: stmt.GetInt64("SetupComplete") != 0,
		LastSync:      stmt.GetInt64("LastSync"),
	}
	stmt.Reset()
	return cfg, nil
}

// --- Labels ------------------------------------------------------------

func labelID(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

// PutLabel upserts a label, deriving its id from name per §3.
func (s *Store) PutLabel(ctx context.Context, user, name, color string) (model.Label, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return model.Label{}, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	l := model.Label{ID: labelID(name), User: user, Name: name, Color: color}
	stmt := conn.Prep(`
		INSERT INTO Labels (ID, User, Name, Color) VALUES ($id, $user, $name, $color)
		ON CONFLICT(User, ID) DO UPDATE SET Name = excluded.Name, Color = excluded.Color;
	`)
	stmt.SetText("$id", l.ID)
	stmt.SetText("$user", l.User)
	stmt.SetText("$name", l.Name)
	stmt.SetText("$color", l.Color)
	if _, err := stmt.Step(); err != nil {
		return model.Label{}, err
	}
	return l, nil
}

// ListLabels returns every label for user.
func (s *Store) ListLabels(ctx context.Context, user string) ([]model.Label, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT ID, User, Name, Color FROM Labels WHERE User = $user ORDER BY Name;`)
	stmt.SetText("$user", user)
	var out []model.Label
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, model.Label{
			ID:    stmt.GetText("ID"),
			User:  stmt.GetText("User"),
			Name:  stmt.GetText("Name"),
			Color: stmt.GetText("Color"),
		})
	}
	return out, nil
}

// DeleteLabel removes a label by id.
func (s *Store) DeleteLabel(ctx context.Context, user, id string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`DELETE FROM Labels WHERE User = $user AND ID = $id;`)
	stmt.SetText("$user", user)
	stmt.SetText("$id", id)
	_, err = stmt.Step()
	return err
}

// --- SmartRules ------------------------------------------------------------

// PutRule upserts a classification rule (§3, uniqueness on user/category/value).
func (s *Store) PutRule(ctx context.Context, rule model.ClassificationRule) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`
		INSERT INTO SmartRules (User, Category, Type, Value) VALUES ($user, $category, $type, $value)
		ON CONFLICT(User, Category, Value) DO UPDATE SET Type = excluded.Type;
	`)
	stmt.SetText("$user", rule.User)
	stmt.SetText("$category", string(rule.Category))
	stmt.SetText("$type", string(rule.Type))
	stmt.SetText("$value", rule.Value)
	_, err = stmt.Step()
	return err
}

// ListRules returns every classification rule for user.
func (s *Store) ListRules(ctx context.Context, user string) ([]model.ClassificationRule, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT User, Category, Type, Value FROM SmartRules WHERE User = $user;`)
	stmt.SetText("$user", user)
	var out []model.ClassificationRule
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, model.ClassificationRule{
			User:     stmt.GetText("User"),
			Category: model.Category(stmt.GetText("Category")),
			Type:     model.RuleType(stmt.GetText("Type")),
			Value:    stmt.GetText("Value"),
		})
	}
	return out, nil
}

// DeleteRule removes a classification rule.
func (s *Store) DeleteRule(ctx context.Context, user string, category model.Category, value string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`DELETE FROM SmartRules WHERE User = $user AND Category = $category AND Value = $value;`)
	stmt.SetText("$user", user)
	stmt.SetText("$category", string(category))
	stmt.SetText("$value", value)
	_, err = stmt.Step()
	return err
}

// --- DraftsStaging -----------------------------------------------------

// PutDraftStaging upserts the durable shadow of a staged draft save.
func (s *Store) PutDraftStaging(ctx context.Context, d model.DraftStaging) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`
		INSERT INTO DraftsStaging (User, ClientDraftID, FromAddr, ToAddrs, Subject, Body, NewAttachmentKeys, ExistingBlobKeys, RemoteUID, StagedAt)
		VALUES ($user, $cid, $from, $to, $subject, $body, $newKeys, $existingKeys, $remoteUID, $stagedAt)
		ON CONFLICT(User, ClientDraftID) DO UPDATE SET
			FromAddr = excluded.FromAddr, ToAddrs = excluded.ToAddrs, Subject = excluded.Subject,
			Body = excluded.Body, NewAttachmentKeys = excluded.NewAttachmentKeys,
			ExistingBlobKeys = excluded.ExistingBlobKeys, RemoteUID = excluded.RemoteUID, StagedAt = excluded.StagedAt;
	`)
	stmt.SetText("$user", d.User)
	stmt.SetText("$cid", d.ClientDraftID)
	stmt.SetText("$from", d.From)
	stmt.SetText("$to", marshalStrings(d.To))
	stmt.SetText("$subject", d.Subject)
	stmt.SetText("$body", d.Body)
	stmt.SetText("$newKeys", marshalStrings(d.NewAttachmentKeys))
	stmt.SetText("$existingKeys", marshalStrings(d.ExistingBlobKeys))
	if d.RemoteUID != nil {
		stmt.SetInt64("$remoteUID", int64(*d.RemoteUID))
	} else {
		stmt.SetInt64("$remoteUID", -1)
	}
	stmt.SetInt64("$stagedAt", d.StagedAtMillis)
	_, err = stmt.Step()
	return err
}

// GetDraftStaging returns the staged draft row, or bridgeerr.ErrNotFound.
func (s *Store) GetDraftStaging(ctx context.Context, user, clientDraftID string) (model.DraftStaging, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return model.DraftStaging{}, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT User, ClientDraftID, FromAddr, ToAddrs, Subject, Body, NewAttachmentKeys, ExistingBlobKeys, RemoteUID, StagedAt
		FROM DraftsStaging WHERE User = $user AND ClientDraftID = $cid;`)
	stmt.SetText("$user", user)
	stmt.SetText("$cid", clientDraftID)
	hasRow, err := stmt.Step()
	if err != nil {
		return model.DraftStaging{}, err
	}
	if !hasRow {
		stmt.Reset()
		return model.DraftStaging{}, bridgeerr.ErrNotFound
	}
	d := model.DraftStaging{
		User:              stmt.GetText("User"),
		ClientDraftID:     stmt.GetText("ClientDraftID"),
		From:              stmt.GetText("FromAddr"),
		To:                unmarshalStrings(stmt.GetText("ToAddrs")),
		Subject:           stmt.GetText("Subject"),
		Body:              stmt.GetText("Body"),
		NewAttachmentKeys: unmarshalStrings(stmt.GetText("NewAttachmentKeys")),
		ExistingBlobKeys:  unmarshalStrings(stmt.GetText("ExistingBlobKeys")),
		StagedAtMillis:    stmt.GetInt64("StagedAt"),
	}
	if rawUID := stmt.GetInt64("RemoteUID"); rawUID >= 0 {
		uid := uint32(rawUID)
		d.RemoteUID = &uid
	}
	stmt.Reset()
	return d, nil
}

// DeleteDraftStaging clears a staging row once the uplink has consumed it.
func (s *Store) DeleteDraftStaging(ctx context.Context, user, clientDraftID string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`DELETE FROM DraftsStaging WHERE User = $user AND ClientDraftID = $cid;`)
	stmt.SetText("$user", user)
	stmt.SetText("$cid", clientDraftID)
	_, err = stmt.Step()
	return err
}

// ListPendingDraftStaging returns every staged draft for user, for the
// uplink's per-cycle drain (§4.10 step 2).
func (s *Store) ListPendingDraftStaging(ctx context.Context, user string) ([]model.DraftStaging, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT ClientDraftID FROM DraftsStaging WHERE User = $user ORDER BY StagedAt;`)
	stmt.SetText("$user", user)
	var ids []string
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		ids = append(ids, stmt.GetText("ClientDraftID"))
	}

	out := make([]model.DraftStaging, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDraftStaging(ctx, user, id)
		if err != nil {
			if err == bridgeerr.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// --- Administrative --------------------------------------------------------

// Reset truncates every collection (§6 DELETE /debug/reset: "flush ...
// storage"). UserConfigs is cleared along with the rest — a reset means
// starting over, not just dropping cached mail.
func (s *Store) Reset(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	for _, table := range []string{"Emails", "UserConfigs", "Labels", "SmartRules", "DraftsStaging"} {
		if stepErr := sqlitex.ExecTransient(conn, `DELETE FROM `+table+`;`, nil); stepErr != nil {
			err = stepErr
			return err
		}
	}
	return nil
}
