package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/queue"
	"github.com/kursadbilgin/sitemap-engine/internal/repository"
)

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.ConversionMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ConversionMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeNotifier struct {
	notifyFn func(ctx context.Context, batch *domain.BatchJob) error
}

func (f *fakeNotifier) NotifyBatchCompleted(ctx context.Context, batch *domain.BatchJob) error {
	if f.notifyFn == nil {
		return nil
	}
	return f.notifyFn(ctx, batch)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeFileConverter struct {
	convertFileFn func(ctx context.Context, batchID string, fileID string, req ConversionRequest) (*FileResult, error)
}

func (f *fakeFileConverter) ConvertFile(ctx context.Context, batchID string, fileID string, req ConversionRequest) (*FileResult, error) {
	return f.convertFileFn(ctx, batchID, fileID, req)
}

// fakeBatchRepo wraps the in-memory repository and lets tests override calls.
type fakeBatchRepo struct {
	*repository.MemoryBatchRepo
	listExpiredFn func(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

func (f *fakeBatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if f.listExpiredFn != nil {
		return f.listExpiredFn(ctx, cutoff, limit)
	}
	return f.MemoryBatchRepo.ListExpired(ctx, cutoff, limit)
}

type testEnv struct {
	repo      *repository.MemoryBatchRepo
	artifacts *artifact.FSStore
	tracker   *BatchTracker
	dir       string
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := artifact.NewFSStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	repo := repository.NewMemoryBatchRepo()
	tracker, err := NewBatchTracker(repo, store, 3, nil)
	if err != nil {
		t.Fatalf("NewBatchTracker() error = %v", err)
	}

	env := &testEnv{
		repo:      repo,
		artifacts: store,
		tracker:   tracker,
		dir:       dir,
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	tracker.now = func() time.Time { return env.now }
	return env
}

// writeCSV stores a CSV upload and returns it as a NewFile.
func (e *testEnv) writeCSV(t *testing.T, id string, lines ...string) NewFile {
	t.Helper()

	path := filepath.Join(e.dir, id+".csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return NewFile{ID: id, OriginalName: id + ".csv", StoragePath: path}
}

func (e *testEnv) createBatch(t *testing.T, files ...NewFile) *domain.BatchJob {
	t.Helper()

	batch, err := e.tracker.CreateBatch(context.Background(), "", files)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return batch
}

func shopRequest() ConversionRequest {
	return ConversionRequest{
		URLPattern: "https://shop.test/{category}/{link}",
		Mapping: domain.ColumnMapping{
			domain.FieldLink:     "slug",
			domain.FieldCategory: "cat",
		},
	}
}
