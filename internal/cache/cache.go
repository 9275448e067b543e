// Package cache implements the bridge's Hot Cache (§4.2): an advisory,
// in-memory key/value store with per-key-class TTLs. Correctness never
// depends on its contents, only on its invalidation being issued after
// the corresponding storage write (§5).
//
// Grounded on the teacher's webcache.New constructor-returns-handle shape
// (spilldb/webcache.webcache.go); the storage medium itself is sourced
// from the pack (hashicorp/golang-lru/v2/expirable) since the teacher's
// own webcache has no TTL concept and this component explicitly needs one.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Class names a TTL bucket. Each class gets its own expirable LRU so that
// keys with different lifetimes don't fight over a single eviction clock.
type Class string

const (
	ClassMailObj      Class = "mail_obj"       // 24h
	ClassMailList     Class = "mail_list"      // 24h
	ClassSyncProgress Class = "sync_progress"  // 60s
	ClassSyncActive   Class = "sync_active"    // 10-30s
	ClassFolderMap    Class = "folder_map"     // 60s
	ClassSmartRules   Class = "smart_rules"    // 1h
	ClassDraftStage   Class = "draft_stage"    // no TTL until consumed
	ClassDraftSend    Class = "draft_send"     // 5m, UX suppression only
)

const maxEntriesPerClass = 20000

// defaultTTL returns the TTL used when New is given none for a class.
func defaultTTL(c Class) time.Duration {
	switch c {
	case ClassMailObj, ClassMailList:
		return 24 * time.Hour
	case ClassSyncProgress:
		return 60 * time.Second
	case ClassSyncActive:
		return 20 * time.Second
	case ClassFolderMap:
		return 60 * time.Second
	case ClassSmartRules:
		return time.Hour
	case ClassDraftSend:
		// Short-TTL UX heuristic (§9 Open Question decision), not an
		// invariant: it records a just-sent draft id for 5 minutes, as
		// reported by IsDraftSendSuppressed. The Drafts list handler does
		// not consult it, so it does not filter any list response.
		return 5 * time.Minute
	case ClassDraftStage:
		// No TTL until explicitly consumed: use a very long backstop so a
		// leaked staging key doesn't live forever, without pretending it
		// expires on any meaningful schedule.
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Cache is the Hot Cache handle shared by every component that reads or
// invalidates cached state.
type Cache struct {
	mu      sync.RWMutex
	classes map[Class]*lru.LRU[string, any]
}

// New creates an empty Hot Cache. Additional classes are created lazily on
// first use with their default TTL from defaultTTL.
func New() *Cache {
	return &Cache{classes: make(map[Class]*lru.LRU[string, any])}
}

func (c *Cache) classFor(class Class) *lru.LRU[string, any] {
	c.mu.RLock()
	l, ok := c.classes[class]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.classes[class]; ok {
		return l
	}
	l = lru.NewLRU[string, any](maxEntriesPerClass, nil, defaultTTL(class))
	c.classes[class] = l
	return l
}

// Set stores value under key in class, refreshing its TTL.
func (c *Cache) Set(class Class, key string, value any) {
	c.classFor(class).Add(key, value)
}

// Get returns the value stored under key in class, if present and not
// expired.
func (c *Cache) Get(class Class, key string) (any, bool) {
	return c.classFor(class).Get(key)
}

// Delete removes key from class. Deleting an absent key is a no-op.
func (c *Cache) Delete(class Class, key string) {
	c.classFor(class).Remove(key)
}

// Keys returns every live key currently stored in class. Used to implement
// "invalidate every mail:<user>:list:<folder>:*" style prefix scans.
func (c *Cache) Keys(class Class) []string {
	return c.classFor(class).Keys()
}

// Reset drops every class, as if the Cache were freshly constructed
// (§6 DELETE /debug/reset: "flush caches").
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes = make(map[Class]*lru.LRU[string, any])
}

// DeletePrefix removes every key in class beginning with prefix.
func (c *Cache) DeletePrefix(class Class, prefix string) {
	l := c.classFor(class)
	for _, k := range l.Keys() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			l.Remove(k)
		}
	}
}

// MailObjKey builds the mail_obj:<id>:<user> key.
func MailObjKey(id, user string) string {
	return fmt.Sprintf("mail_obj:%s:%s", id, user)
}

// MailListKey builds the mail:<user>:list:<folder>:<category|all> key.
func MailListKey(user, folder, category string) string {
	if category == "" {
		category = "all"
	}
	return fmt.Sprintf("mail:%s:list:%s:%s", user, folder, category)
}

// MailListPrefix builds the prefix shared by every category variant of a
// folder's list key, for bulk invalidation.
func MailListPrefix(user, folder string) string {
	return fmt.Sprintf("mail:%s:list:%s:", user, folder)
}

// SyncProgressKey builds the sync_progress:<user> key.
func SyncProgressKey(user string) string { return fmt.Sprintf("sync_progress:%s", user) }

// SyncActiveKey builds the sync_active:<user> key.
func SyncActiveKey(user string) string { return fmt.Sprintf("sync_active:%s", user) }

// FolderMapKey builds the folder_map:<user> key.
func FolderMapKey(user string) string { return fmt.Sprintf("folder_map:%s", user) }

// SmartRulesKey builds the smart_rules:<user> key.
func SmartRulesKey(user string) string { return fmt.Sprintf("smart_rules:%s", user) }

// DraftStageKey builds the draft_stage:<user>:<clientDraftId> key.
func DraftStageKey(user, clientDraftID string) string {
	return fmt.Sprintf("draft_stage:%s:%s", user, clientDraftID)
}

// DraftSendSuppressKey builds the draft_send:<user>:<clientDraftId> key that
// records a just-sent draft for the ClassDraftSend TTL.
func DraftSendSuppressKey(user, clientDraftID string) string {
	return fmt.Sprintf("draft_send:%s:%s", user, clientDraftID)
}

// IsDraftSendSuppressed reports whether clientDraftID was sent within the
// ClassDraftSend TTL. No list path calls it; Drafts list responses are not
// filtered by it.
func (c *Cache) IsDraftSendSuppressed(user, clientDraftID string) bool {
	_, ok := c.Get(ClassDraftSend, DraftSendSuppressKey(user, clientDraftID))
	return ok
}

// SuppressDraftSend marks clientDraftID as just-sent.
func (c *Cache) SuppressDraftSend(user, clientDraftID string) {
	c.Set(ClassDraftSend, DraftSendSuppressKey(user, clientDraftID), true)
}

// InvalidateMessage drops the hot mail_obj entry for id and every list
// snapshot for affectedFolder, per §4.2's invalidation rule.
func (c *Cache) InvalidateMessage(user, id, affectedFolder string) {
	c.Delete(ClassMailObj, MailObjKey(id, user))
	c.DeletePrefix(ClassMailList, MailListPrefix(user, affectedFolder))
}

// InvalidateInboxCategories drops all five Inbox category snapshots
// (primary/social/updates/promotions/all), used on category reassignment.
func (c *Cache) InvalidateInboxCategories(user string) {
	c.DeletePrefix(ClassMailList, MailListPrefix(user, "Inbox"))
}

// SyncProgress is the value stored under SyncProgressKey.
type SyncProgress struct {
	Status  string `json:"status"`
	Percent int    `json:"percent"`
}
