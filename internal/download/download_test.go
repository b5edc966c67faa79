package download

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

func newTestIssuer(t *testing.T, ttl time.Duration) (*Issuer, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	issuer, err := NewIssuer(rdb, ttl)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer, mr
}

func TestIssuer_IssueAndResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	issuer, _ := newTestIssuer(t, time.Minute)

	token, err := issuer.IssueToken(ctx, KindSitemapJob, "job-1")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if len(token) != tokenSize {
		t.Fatalf("token length = %d, want %d", len(token), tokenSize)
	}

	target, err := issuer.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if target == nil || target.Kind != KindSitemapJob || target.ID != "job-1" {
		t.Fatalf("target = %+v", target)
	}
}

func TestIssuer_TokenExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	issuer, mr := newTestIssuer(t, time.Minute)

	token, err := issuer.IssueToken(ctx, KindSitemapIndex, "job-1")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	target, err := issuer.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if target != nil {
		t.Fatalf("expired token resolved to %+v", target)
	}
}

func TestIssuer_UnknownToken(t *testing.T) {
	t.Parallel()

	issuer, _ := newTestIssuer(t, 0)
	if issuer.TTL() != DefaultTokenTTL {
		t.Fatalf("TTL() = %v, want default", issuer.TTL())
	}

	for _, token := range []string{"", "nope", strings.Repeat("x", 200)} {
		target, err := issuer.ResolveToken(context.Background(), token)
		if err != nil || target != nil {
			t.Fatalf("ResolveToken(%q) = %+v, %v; want nil, nil", token, target, err)
		}
	}
}

func TestIssuer_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	issuer, _ := newTestIssuer(t, time.Minute)

	if _, err := issuer.IssueToken(ctx, Kind("other"), "job-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid kind error = %v, want ErrValidation", err)
	}
	if _, err := issuer.IssueToken(ctx, KindSitemapJob, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty id error = %v, want ErrValidation", err)
	}

	issuer.generate = func() (string, error) { return "fixed", nil }
	if _, err := issuer.IssueToken(ctx, KindSitemapJob, "job-1"); err != nil {
		t.Fatalf("first IssueToken() error = %v", err)
	}
	if _, err := issuer.IssueToken(ctx, KindSitemapJob, "job-2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("collision error = %v, want ErrConflict", err)
	}
}

func TestIssuer_RedisDownIsTransient(t *testing.T) {
	t.Parallel()

	issuer, mr := newTestIssuer(t, time.Minute)
	mr.Close()

	_, err := issuer.IssueToken(context.Background(), KindSitemapJob, "job-1")
	if !domain.IsTransient(err) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestWriteZip(t *testing.T) {
	t.Parallel()

	contents := map[string]string{
		"sitemap-1.xml":     "<urlset/>",
		"sitemap-index.xml": "<sitemapindex/>",
	}
	files := []File{}
	for _, name := range []string{"sitemap-1.xml", "sitemap-index.xml"} {
		body := contents[name]
		files = append(files, File{
			Name: name,
			Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
		})
	}

	var buf bytes.Buffer
	if err := WriteZip(&buf, files); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive members = %d, want 2", len(zr.File))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(data) != contents[f.Name] {
			t.Fatalf("%s = %q, want %q", f.Name, data, contents[f.Name])
		}
	}
}

func TestWriteZip_OpenError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := WriteZip(io.Discard, []File{{
		Name: "a.xml",
		Open: func() (io.ReadCloser, error) { return nil, boom },
	}})
	if !errors.Is(err, boom) {
		t.Fatalf("WriteZip() error = %v, want boom", err)
	}
}
