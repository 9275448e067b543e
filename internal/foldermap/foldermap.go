// Package foldermap implements the Folder Mapper (§4.4): translating
// canonical folder names (Inbox/Sent/Drafts/Trash/Spam/Archive) to the
// server-specific paths reported by IMAP LIST, with a 60s cache.
package foldermap

import (
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/highkick05/mailboy-sub000/internal/cache"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

// specialUse maps an IMAP special-use attribute to the canonical folder it
// denotes.
var specialUse = map[string]string{
	"\\Sent":   model.FolderSent,
	"\\Drafts": model.FolderDrafts,
	"\\Trash":  model.FolderTrash,
	"\\Junk":   model.FolderSpam,
	"\\Archive": model.FolderArchive,
}

// nameFallback matches lowercased folder names when no special-use flag is
// present, including the Trash aliases §4.4 requires.
var nameFallback = map[string][]string{
	model.FolderSent:   {"sent", "sent items", "sent mail"},
	model.FolderDrafts: {"drafts"},
	model.FolderTrash:  {"trash", "bin", "deleted", "deleted items"},
	model.FolderSpam:   {"spam", "junk"},
	model.FolderArchive: {"archive", "all mail"},
}

// Resolve lists the user's folders over c and returns the canonical ->
// server-path map, priming the hot cache for 60s (§4.4).
func Resolve(c *imapclient.Client, user string, hot *cache.Cache) (map[string]string, error) {
	if key := cache.FolderMapKey(user); hot != nil {
		if v, ok := hot.Get(cache.ClassFolderMap, key); ok {
			if m, ok := v.(map[string]string); ok {
				return m, nil
			}
		}
	}

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() { done <- c.List("", "*", mailboxes) }()

	result := map[string]string{model.FolderInbox: "INBOX"}
	for info := range mailboxes {
		canon, ok := canonicalFor(info)
		if !ok {
			continue
		}
		if _, already := result[canon]; !already {
			result[canon] = info.Name
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}

	if hot != nil {
		hot.Set(cache.ClassFolderMap, cache.FolderMapKey(user), result)
	}
	return result, nil
}

func canonicalFor(info *imap.MailboxInfo) (string, bool) {
	if strings.EqualFold(info.Name, "INBOX") {
		return model.FolderInbox, true
	}
	for _, attr := range info.Attributes {
		if canon, ok := specialUse[attr]; ok {
			return canon, true
		}
	}
	lower := strings.ToLower(info.Name)
	for canon, aliases := range nameFallback {
		for _, alias := range aliases {
			if lower == alias {
				return canon, true
			}
		}
	}
	return "", false
}
