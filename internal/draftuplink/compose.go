package draftuplink

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	emmail "github.com/emersion/go-message/mail"

	"github.com/highkick05/mailboy-sub000/internal/attachment"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

// draftIDHeader is the custom header a composed draft carries so a later
// save of the same client draft can be found by search even if the
// staging row holding its remote uid was lost (§4.10 step 2b).
const draftIDHeader = "X-Mailboy-Draft-Id"

// composeDraft builds the MIME-encoded form of a staged draft, reading
// attachment content by blob key from attachments. Both newly uploaded
// files and attachments already persisted on another message share the
// same flat key space, so they're fetched identically here.
//
// Blob keys are "<ts>-<rand>-<sanitizedName>" (internal/worker's
// uniqueKey convention); the filename is recovered from the key suffix
// since staging rows only carry the key, not separate metadata.
func composeDraft(d model.DraftStaging, attachments attachment.Store) (*bytes.Buffer, error) {
	var header emmail.Header
	if d.From != "" {
		header.SetAddressList("From", []*emmail.Address{{Address: d.From}})
	}
	if len(d.To) > 0 {
		header.SetAddressList("To", toAddressList(d.To))
	}
	header.SetSubject(d.Subject)
	header.SetDate(time.Now())
	header.Set(draftIDHeader, d.ClientDraftID)

	buf := new(bytes.Buffer)
	mw, err := emmail.CreateWriter(buf, header)
	if err != nil {
		return nil, err
	}

	keys := append(append([]string{}, d.NewAttachmentKeys...), d.ExistingBlobKeys...)
	if len(keys) == 0 {
		w, err := mw.CreateSingleInlineWriter()
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, d.Body); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	} else {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, err
		}
		var ih emmail.InlineHeader
		ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(pw, d.Body); err != nil {
			pw.Close()
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, err
		}

		for _, key := range keys {
			if err := writeAttachmentPart(context.Background(), mw, attachments, key); err != nil {
				return nil, err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeAttachmentPart(ctx context.Context, mw *emmail.Writer, attachments attachment.Store, key string) error {
	rc, err := attachments.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	filename := filenameFromBlobKey(key)
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var ah emmail.AttachmentHeader
	ah.SetContentType(mimeType, nil)
	ah.SetFilename(filename)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// filenameFromBlobKey recovers the original filename from a
// "<ts>-<rand>-<sanitizedName>" blob key.
func filenameFromBlobKey(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) < 3 {
		return key
	}
	return parts[2]
}

func toAddressList(addrs []string) []*emmail.Address {
	out := make([]*emmail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &emmail.Address{Address: a})
	}
	return out
}
