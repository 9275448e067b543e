package httpapi

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
)

// outgoingMessage is the subset of a POST /mail/send payload compose
// needs. Unlike draftuplink's composeDraft, this never carries the
// X-Mailboy-Draft-Id header or targets the Drafts folder — it's built for
// one-shot SMTP submission, not an IMAP Drafts append.
type outgoingMessage struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// composeOutgoing builds the MIME-encoded form of an outgoing send,
// attaching each blobKey's content read back from the attachment store.
// Grounded on draftuplink/compose.go's tree-then-encode structure via
// emersion/go-message/mail, generalized to drop the draft-specific header.
func composeOutgoing(msg outgoingMessage, blobKeys []string, attachments attachment.Store) (*bytes.Buffer, error) {
	var header emmail.Header
	if msg.From != "" {
		header.SetAddressList("From", []*emmail.Address{{Address: msg.From}})
	}
	if len(msg.To) > 0 {
		addrs := make([]*emmail.Address, 0, len(msg.To))
		for _, a := range msg.To {
			addrs = append(addrs, &emmail.Address{Address: a})
		}
		header.SetAddressList("To", addrs)
	}
	header.SetSubject(msg.Subject)
	header.SetDate(time.Now())

	buf := new(bytes.Buffer)
	mw, err := emmail.CreateWriter(buf, header)
	if err != nil {
		return nil, err
	}

	if len(blobKeys) == 0 {
		w, err := mw.CreateSingleInlineWriter()
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
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
		if _, err := io.WriteString(pw, msg.Body); err != nil {
			pw.Close()
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, err
		}

		for _, key := range blobKeys {
			if err := writeOutgoingAttachment(context.Background(), mw, attachments, key); err != nil {
				return nil, err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeOutgoingAttachment(ctx context.Context, mw *emmail.Writer, attachments attachment.Store, key string) error {
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
// "<ts>-<rand>-<sanitizedName>" blob key (worker.UniqueKey's convention).
func filenameFromBlobKey(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) < 3 {
		return key
	}
	return parts[2]
}
