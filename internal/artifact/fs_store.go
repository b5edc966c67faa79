package artifact

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"go.uber.org/multierr"
)

const (
	artifactsDir = "artifacts"
	sitemapsDir  = "sitemaps"
	uploadsDir   = "uploads"
	jobFileName  = "job.json"
)

var _ Store = (*FSStore)(nil)

// FSStore keeps artifacts as JSON documents under a root directory:
// artifacts/<batchId>/<fileId>.json, uploads/<batchId>/<fileId><ext> and
// sitemaps/<jobId>/<name>.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	for _, dir := range []string{artifactsDir, sitemapsDir, uploadsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Create(ctx context.Context, batchID string, fileID string, meta Metadata) (Writer, error) {
	if err := validID(batchID); err != nil {
		return nil, err
	}
	if err := validID(fileID); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, artifactsDir, batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewTransientError("create artifact directory", err)
	}

	tmp, err := os.CreateTemp(dir, fileID+".*.tmp")
	if err != nil {
		return nil, domain.NewTransientError("create artifact", err)
	}

	w := &fsWriter{
		file:    tmp,
		buf:     bufio.NewWriter(tmp),
		final:   filepath.Join(dir, fileID+".json"),
		ref:     batchID + "/" + fileID + ".json",
		batchID: batchID,
		fileID:  fileID,
	}
	if err := w.writeHeader(meta); err != nil {
		_ = w.Abort()
		return nil, err
	}
	return w, nil
}

func (s *FSStore) Get(ctx context.Context, ref string) (*Artifact, error) {
	path, err := s.artifactPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact %q", domain.ErrNotFound, ref)
	}
	if err != nil {
		return nil, domain.NewTransientError("open artifact", err)
	}
	defer f.Close()

	var a Artifact
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %q: %w", ref, err)
	}
	return &a, nil
}

func (s *FSStore) ListByBatch(ctx context.Context, batchID string) ([]Artifact, error) {
	if err := validID(batchID); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, artifactsDir, batchID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewTransientError("list artifacts", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	artifacts := make([]Artifact, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.Get(ctx, batchID+"/"+name)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, nil
}

func (s *FSStore) DeleteBatch(ctx context.Context, batchID string) error {
	if err := validID(batchID); err != nil {
		return err
	}
	err := multierr.Append(
		os.RemoveAll(filepath.Join(s.root, artifactsDir, batchID)),
		os.RemoveAll(filepath.Join(s.root, uploadsDir, batchID)),
	)
	if err != nil {
		return domain.NewTransientError("delete batch files", err)
	}
	return nil
}

func (s *FSStore) SaveUpload(ctx context.Context, batchID string, fileID string, ext string, r io.Reader) (string, error) {
	if err := validID(batchID); err != nil {
		return "", err
	}
	if err := validID(fileID); err != nil {
		return "", err
	}
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`)) {
		return "", fmt.Errorf("%w: invalid extension %q", domain.ErrValidation, ext)
	}

	dir := filepath.Join(s.root, uploadsDir, batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewTransientError("create upload directory", err)
	}

	path := filepath.Join(dir, fileID+strings.ToLower(ext))
	f, err := os.Create(path)
	if err != nil {
		return "", domain.NewTransientError("create upload", err)
	}
	_, copyErr := io.Copy(f, r)
	if err := multierr.Append(copyErr, f.Close()); err != nil {
		_ = os.Remove(path)
		return "", domain.NewTransientError("write upload", err)
	}
	return path, nil
}

// PurgeSitemapJobs removes sitemap job directories last modified before the
// cutoff and reports how many were removed.
func (s *FSStore) PurgeSitemapJobs(ctx context.Context, before time.Time) (int, error) {
	root := filepath.Join(s.root, sitemapsDir)
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewTransientError("list sitemap jobs", err)
	}

	removed := 0
	var errs error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !info.ModTime().Before(before) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

func (s *FSStore) CreateSitemap(ctx context.Context, jobID string, name string) (io.WriteCloser, error) {
	path, err := s.sitemapPath(jobID, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.NewTransientError("create sitemap directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, domain.NewTransientError("create sitemap file", err)
	}
	return f, nil
}

func (s *FSStore) OpenSitemap(ctx context.Context, jobID string, name string) (io.ReadCloser, error) {
	path, err := s.sitemapPath(jobID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: sitemap %q in job %q", domain.ErrNotFound, name, jobID)
	}
	if err != nil {
		return nil, domain.NewTransientError("open sitemap file", err)
	}
	return f, nil
}

// RemoveSitemap deletes one sitemap file. A missing file is not an error.
func (s *FSStore) RemoveSitemap(ctx context.Context, jobID string, name string) error {
	path, err := s.sitemapPath(jobID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewTransientError("remove sitemap file", err)
	}
	return nil
}

func (s *FSStore) SaveSitemapJob(ctx context.Context, job *domain.SitemapJob) error {
	if job == nil {
		return fmt.Errorf("%w: sitemap job is required", domain.ErrValidation)
	}
	w, err := s.CreateSitemap(ctx, job.ID, jobFileName)
	if err != nil {
		return err
	}
	encodeErr := json.NewEncoder(w).Encode(job)
	return multierr.Append(encodeErr, w.Close())
}

func (s *FSStore) GetSitemapJob(ctx context.Context, jobID string) (*domain.SitemapJob, error) {
	r, err := s.OpenSitemap(ctx, jobID, jobFileName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var job domain.SitemapJob
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap job %q: %w", jobID, err)
	}
	return &job, nil
}

func (s *FSStore) artifactPath(ref string) (string, error) {
	batchID, name, ok := strings.Cut(ref, "/")
	if !ok || !strings.HasSuffix(name, ".json") {
		return "", fmt.Errorf("%w: malformed artifact ref %q", domain.ErrValidation, ref)
	}
	if err := validID(batchID); err != nil {
		return "", err
	}
	if err := validID(strings.TrimSuffix(name, ".json")); err != nil {
		return "", err
	}
	return filepath.Join(s.root, artifactsDir, batchID, name), nil
}

func (s *FSStore) sitemapPath(jobID string, name string) (string, error) {
	if err := validID(jobID); err != nil {
		return "", err
	}
	if err := validID(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, sitemapsDir, jobID, name), nil
}

func validID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed != id || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid identifier %q", domain.ErrValidation, id)
	}
	return nil
}

// fsWriter streams {"batchId":..,"metadata":..,"data":[...],"statistics":..}
// into a temp file and renames it into place on Commit.
type fsWriter struct {
	file    *os.File
	buf     *bufio.Writer
	final   string
	ref     string
	batchID string
	fileID  string
	count   int
	closed  bool
}

func (w *fsWriter) writeHeader(meta Metadata) error {
	batchID, _ := json.Marshal(w.batchID)
	fileID, _ := json.Marshal(w.fileID)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	if _, err := fmt.Fprintf(w.buf, `{"batchId":%s,"fileId":%s,"metadata":%s,"data":[`, batchID, fileID, metaJSON); err != nil {
		return domain.NewTransientError("write artifact", err)
	}
	return nil
}

func (w *fsWriter) Append(entry domain.URLEntry) error {
	if w.closed {
		return fmt.Errorf("artifact writer is closed")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal url entry: %w", err)
	}
	if w.count > 0 {
		if err := w.buf.WriteByte(','); err != nil {
			return domain.NewTransientError("write artifact", err)
		}
	}
	if _, err := w.buf.Write(payload); err != nil {
		return domain.NewTransientError("write artifact", err)
	}
	w.count++
	return nil
}

func (w *fsWriter) Commit(stats domain.ConversionStatistics) (string, error) {
	if w.closed {
		return "", fmt.Errorf("artifact writer is closed")
	}

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		_ = w.Abort()
		return "", fmt.Errorf("failed to marshal statistics: %w", err)
	}
	if _, err := fmt.Fprintf(w.buf, `],"statistics":%s}`, statsJSON); err != nil {
		_ = w.Abort()
		return "", domain.NewTransientError("write artifact", err)
	}

	w.closed = true
	writeErr := multierr.Combine(w.buf.Flush(), w.file.Sync(), w.file.Close())
	if writeErr != nil {
		_ = os.Remove(w.file.Name())
		return "", domain.NewTransientError("flush artifact", writeErr)
	}
	if err := os.Rename(w.file.Name(), w.final); err != nil {
		_ = os.Remove(w.file.Name())
		return "", domain.NewTransientError("commit artifact", err)
	}
	return w.ref, nil
}

func (w *fsWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return multierr.Append(w.file.Close(), os.Remove(w.file.Name()))
}
