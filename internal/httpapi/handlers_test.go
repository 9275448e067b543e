package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/bridge"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

func testMessage(user, id string) model.Message {
	uid, folder, _ := model.ParseCompositeID(id)
	return model.Message{
		ID: id, UID: uid, User: user, Folder: folder,
		From: "sender@example.com", Subject: "hello", Timestamp: 1000,
		IsFullBody: true, Body: "hi", Preview: "hi",
	}
}

func newTestServer(t *testing.T) (http.Handler, *bridge.Engine) {
	t.Helper()
	e, err := bridge.New("file::memory:?mode=memory&cache=shared", t.TempDir())
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return NewRouter(NewServer(e)), e
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsUP(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "UP" {
		t.Fatalf("got status %q, want UP", resp.Status)
	}
}

func TestLabelsRoundTrip(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/labels", labelRequest{User: "alice", Name: "Urgent", Color: "#f00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put label: got status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/labels?user=alice", nil)
	var labels []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &labels); err != nil {
		t.Fatalf("decode labels: %v", err)
	}
	if len(labels) != 1 || labels[0]["name"] != "Urgent" {
		t.Fatalf("got %+v, want one label named Urgent", labels)
	}

	rec = doJSON(t, h, http.MethodDelete, "/labels", labelDeleteRequest{User: "alice", ID: labels[0]["id"].(string)})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete label: got status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/labels?user=alice", nil)
	labels = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &labels)
	if len(labels) != 0 {
		t.Fatalf("got %d labels after delete, want 0", len(labels))
	}
}

func TestSmartRulesRoundTrip(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/smart-rules", map[string]string{
		"user": "alice", "category": "social", "type": "from", "value": "notifications@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put rule: got status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/smart-rules?user=alice", nil)
	var rules []map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &rules)
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}

	rec = doJSON(t, h, http.MethodDelete, "/smart-rules", ruleDeleteRequest{
		User: "alice", Category: "social", Value: "notifications@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete rule: got status %d", rec.Code)
	}
}

func TestMailListOnEmptyFolderReturnsEmptyArray(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/mail/list?user=alice&folder=Inbox", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	var list []messageSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("got %d messages, want 0", len(list))
	}
}

func TestMailGetWithoutActiveUserIsBridgeOffline(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/mail/uid-1-Inbox?user=alice", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503 (user never started)", rec.Code)
	}
}

func TestMailMoveToCategoryName(t *testing.T) {
	h, e := newTestServer(t)
	ctx := context.Background()
	msg := testMessage("alice", "uid-1-Inbox")
	if err := e.Store.UpsertEnvelope(ctx, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/mail/move", moveRequest{
		EmailID: "uid-1-Inbox", User: "alice", TargetFolder: "social",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := e.Store.GetByID(ctx, "uid-1-Inbox", "alice")
	if err != nil {
		t.Fatalf("reload message: %v", err)
	}
	if got.Category != "social" {
		t.Fatalf("got category %q, want social", got.Category)
	}
}

func TestDebugResetClearsStorage(t *testing.T) {
	h, e := newTestServer(t)
	ctx := context.Background()
	if err := e.Store.UpsertEnvelope(ctx, testMessage("alice", "uid-1-Inbox")); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := doJSON(t, h, http.MethodDelete, "/debug/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := e.Store.GetByID(ctx, "uid-1-Inbox", "alice"); err == nil {
		t.Fatal("expected message to be gone after reset")
	}
}
