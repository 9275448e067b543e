package proxy_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"crawshaw.io/iox"

	"github.com/highkick05/mailboy-sub000/internal/proxy"
)

func rewrite(t *testing.T, in string) string {
	t.Helper()
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	buf, err := proxy.RewriteImages(filer, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()
	out, err := io.ReadAll(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestRewritesAbsoluteHTTPImageSrc(t *testing.T) {
	got := rewrite(t, `<p>hi</p><img src="http://evil.example/track.gif" width="1">`)
	if !strings.Contains(got, proxy.Endpoint+"?url=") {
		t.Fatalf("expected rewritten src, got %s", got)
	}
	if strings.Contains(got, "http://evil.example") {
		t.Fatalf("original URL leaked unescaped into output: %s", got)
	}
}

func TestLeavesCIDAndRelativeSrcAlone(t *testing.T) {
	got := rewrite(t, `<img src="cid:fetchasset0"><img src="/static/logo.png">`)
	if strings.Contains(got, proxy.Endpoint) {
		t.Fatalf("non-absolute src should not be rewritten: %s", got)
	}
	if !strings.Contains(got, `src="cid:fetchasset0"`) || !strings.Contains(got, `src="/static/logo.png"`) {
		t.Fatalf("src values should survive unchanged: %s", got)
	}
}

func TestNonImgTagsPassThroughUnchanged(t *testing.T) {
	got := rewrite(t, `<a href="http://example.com">link</a>`)
	if !strings.Contains(got, `<a href="http://example.com">link</a>`) {
		t.Fatalf("anchor tag should pass through unchanged, got %s", got)
	}
}
