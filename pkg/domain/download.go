package domain

import "time"

// Outcome describes the result of fetching a single resource.
// It is never persisted; only a successful outcome turns into a ledger entry.
type Outcome struct {
	Success  bool
	Attempts int
	Bytes    int64
	Err      error
}

// DownloadRecord is the catalog row written after a resource has been downloaded
// and recorded in the ledger.
//
// The ledger file stays the source of truth for deduplication; catalog rows are
// informational and are never read back to decide what to download.
type DownloadRecord struct {
	// RunID groups all records written by one invocation.
	RunID string `bson:"run_id" json:"run_id"`

	CourseID   string `bson:"course_id" json:"course_id"`
	CourseName string `bson:"course_name" json:"course_name"`

	// Key is the ledger key "<courseFolder>/<fileName>".
	Key string `bson:"ledger_key" json:"ledger_key"`

	FileName string   `bson:"file_name" json:"file_name"`
	FileType FileType `bson:"file_type" json:"file_type"`

	// URL is the download URL the bytes were fetched from.
	URL string `bson:"url" json:"url"`

	// Path is the local destination path.
	Path string `bson:"path" json:"path"`

	Bytes    int64 `bson:"bytes" json:"bytes"`
	Attempts int   `bson:"attempts" json:"attempts"`

	DownloadedAt time.Time `bson:"downloaded_at" json:"downloaded_at"`
}
