// Package proxy implements the inline-image URL rewrite (§4.13): on read,
// every <img src="http(s)://..."> in a message body is rewritten to route
// through the bridge's own image proxy endpoint instead of hitting the
// remote host directly from the client.
//
// The tokenizer-driven rewrite loop is grounded on
// html/htmlsafe.Sanitizer.Sanitize's pass-through-unless-matched shape;
// unlike that sanitizer this package allows every tag through unchanged
// and only ever rewrites the img/src attribute, since full HTML
// sanitization is out of scope here (§4.13 Non-goals). Output buffering
// uses crawshaw.io/iox.Filer.BufferFile, the same scratch-buffer idiom
// html/htmlembed.Embed uses for its own tree-walk output.
package proxy

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"crawshaw.io/iox"
)

// Endpoint is the path inline image URLs are rewritten to point at
// (§4.13: "/api/v1/proxy/image?url=<encoded original URL>").
const Endpoint = "/api/v1/proxy/image"

// RewriteImages reads an HTML message body from src and returns a copy
// with every <img src> pointing at an absolute http(s) URL rewritten to
// Endpoint?url=<encoded>. Non-image tags and non-absolute src values pass
// through unchanged.
func RewriteImages(filer *iox.Filer, src io.Reader) (*iox.BufferFile, error) {
	buf := filer.BufferFile(0)

	z := html.NewTokenizer(src)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			if _, err := buf.Write(z.Raw()); err != nil {
				buf.Close()
				return nil, err
			}
			continue
		}

		t := z.Token()
		if t.DataAtom != atom.Img {
			if _, err := buf.Write(z.Raw()); err != nil {
				buf.Close()
				return nil, err
			}
			continue
		}

		if err := writeRewrittenImg(buf, t); err != nil {
			buf.Close()
			return nil, err
		}
	}
	if err := z.Err(); err != io.EOF {
		buf.Close()
		return nil, err
	}
	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		buf.Close()
		return nil, err
	}
	return buf, nil
}

func writeRewrittenImg(dst io.Writer, t html.Token) error {
	var b bytes.Buffer
	b.WriteString("<img")
	for _, attr := range t.Attr {
		if attr.Key == "src" {
			b.WriteString(` src="`)
			b.WriteString(html.EscapeString(rewriteSrc(attr.Val)))
			b.WriteString(`"`)
			continue
		}
		b.WriteByte(' ')
		b.WriteString(attr.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(attr.Val))
		b.WriteString(`"`)
	}
	if t.Type == html.SelfClosingTagToken {
		b.WriteString("/>")
	} else {
		b.WriteString(">")
	}
	_, err := dst.Write(b.Bytes())
	return err
}

// rewriteSrc rewrites an absolute http(s) URL to the proxy endpoint;
// anything else (cid:, data:, relative paths) is returned unchanged.
func rewriteSrc(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}
	q := url.Values{"url": {u.String()}}
	return Endpoint + "?" + q.Encode()
}
