// Package models defines the ledger entity types.
package models

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// Run represents one invocation of the day pipeline over a date range.
type Run struct {
	ID         string
	Zone       string
	StartDate  string // YYYYMMDD
	EndDate    string // YYYYMMDD, exclusive
	StartedAt  int64
	FinishedAt *int64
	Status     string
	Error      *string
}

// Day represents an archived calendar day of one zone.
type Day struct {
	ID           int64
	RunID        *string
	Zone         string
	Date         string // YYYYMMDD
	WindowStart  string
	WindowEnd    string
	TotalCount   int64
	ArchivePath  string
	Records      int
	Fetched      int
	Failed       int
	PayloadBytes int64
	ArchiveSize  int64
	Digest       string
	StartedAt    int64
	FinishedAt   int64
}

// Segment is the ledger copy of one archived segment record.
type Segment struct {
	ID               int64
	DayID            int64
	Index            int
	Domain           string
	Area             string
	LogPacketName    string
	URL              string
	LogTime          int64
	LogStartTime     string
	LogEndTime       string
	Size             int64
	Outcome          string // "Ok" or "Err"
	Status           *int
	GzFilename       *string
	GzMtime          *int64
	UncompressedSize *int64
}

// Upload records an archive copied to object storage.
type Upload struct {
	ID          int64
	DayID       *int64
	ArchivePath string
	Bucket      string
	Key         string
	Skipped     bool
	UploadedAt  int64
}
