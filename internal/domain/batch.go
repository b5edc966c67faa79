package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchStatus represents the overall state of a batch job.
type BatchStatus string

const (
	BatchStatusUploaded   BatchStatus = "uploaded"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusUploaded, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// FileStatus represents the lifecycle state of one file inside a batch.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

func (s FileStatus) String() string { return string(s) }

func (s FileStatus) IsValid() bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusCompleted, FileStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition is expected.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusError
}

func ParseFileStatusFromString(s string) (FileStatus, error) {
	st := FileStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid file status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition reports whether a file may move from s to next.
func (s FileStatus) CanTransition(next FileStatus) bool {
	switch s {
	case FileStatusPending:
		return next == FileStatusProcessing
	case FileStatusProcessing:
		return next == FileStatusCompleted || next == FileStatusError || next == FileStatusProcessing
	case FileStatusError:
		return next == FileStatusProcessing
	case FileStatusCompleted:
		return next == FileStatusProcessing
	}
	return false
}

// FileType is the tabular format of an uploaded file.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
)

func (t FileType) IsValid() bool {
	return t == FileTypeCSV || t == FileTypeXLSX
}

// FileTypeFromName infers the file type from an upload's extension.
func FileTypeFromName(name string) (FileType, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FileTypeCSV, nil
	case strings.HasSuffix(lower, ".xlsx"):
		return FileTypeXLSX, nil
	}
	return "", fmt.Errorf("%w: unsupported file type for %q", ErrValidation, name)
}

const DefaultMaxRetries = 3

// FileError carries the failure message and retry bookkeeping of a file.
type FileError struct {
	Message    string `json:"message"`
	Attempts   int    `json:"attempts"`
	MaxRetries int    `json:"maxRetries"`
}

// FileJob is one uploaded file tracked inside a batch.
type FileJob struct {
	ID           string                `json:"id"`
	BatchID      string                `json:"batchId"`
	OriginalName string                `json:"originalName"`
	FileType     FileType              `json:"fileType"`
	StoragePath  string                `json:"-"`
	Status       FileStatus            `json:"status"`
	Statistics   *ConversionStatistics `json:"statistics,omitempty"`
	Error        *FileError            `json:"error,omitempty"`
	ArtifactRef  string                `json:"-"`
	Attempts     int                   `json:"attempts"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// HasArtifact reports whether the file produced a conversion artifact.
func (f FileJob) HasArtifact() bool {
	return strings.TrimSpace(f.ArtifactRef) != ""
}

// BatchJob groups files uploaded and processed together.
type BatchJob struct {
	ID             string       `json:"id"`
	Files          []FileJob    `json:"files"`
	Status         BatchStatus  `json:"status"`
	StatusOverride *BatchStatus `json:"statusOverride,omitempty"`
	Progress       Progress     `json:"progress"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

// File returns the file with the given id.
func (b *BatchJob) File(fileID string) (*FileJob, error) {
	for i := range b.Files {
		if b.Files[i].ID == fileID {
			return &b.Files[i], nil
		}
	}
	return nil, fmt.Errorf("%w: file %q in batch %q", ErrNotFound, fileID, b.ID)
}

// Refresh recomputes the derived status, progress and completion time.
func (b *BatchJob) Refresh(now time.Time) {
	b.Progress = ProgressFromFiles(b.Files)
	derived := DeriveBatchStatus(b.Files)
	b.Status = derived
	if b.StatusOverride != nil {
		b.Status = *b.StatusOverride
	}

	if derived == BatchStatusCompleted {
		if b.CompletedAt == nil {
			completed := now
			b.CompletedAt = &completed
		}
	} else {
		b.CompletedAt = nil
	}
}

// DeriveBatchStatus computes the batch status from its files alone.
func DeriveBatchStatus(files []FileJob) BatchStatus {
	if len(files) == 0 {
		return BatchStatusUploaded
	}

	pending, terminal := 0, 0
	for _, f := range files {
		switch {
		case f.Status.IsTerminal():
			terminal++
		case f.Status == FileStatusPending:
			pending++
		}
	}

	switch {
	case terminal == len(files):
		return BatchStatusCompleted
	case pending == len(files):
		return BatchStatusUploaded
	default:
		return BatchStatusProcessing
	}
}

// Progress is the tagged progress representation of a batch.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

func ProgressFromFiles(files []FileJob) Progress {
	p := Progress{Total: len(files)}
	for _, f := range files {
		switch f.Status {
		case FileStatusCompleted:
			p.Completed++
		case FileStatusError:
			p.Failed++
		}
	}
	p.Percentage = percentage(p.Completed+p.Failed, p.Total)
	return p
}

func percentage(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}
