// Package export produces downloadable study results as CSV and PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Layout selects how CSV rows are shaped.
type Layout string

const (
	// LayoutResponses emits one row per answered block (long form).
	LayoutResponses Layout = "responses"
	// LayoutSessions emits one row per session with a column per block (wide form).
	LayoutSessions Layout = "sessions"
)

// Request contains parameters for an export operation
type Request struct {
	StudyID string
	Format  Format
	Layout  Layout
}

// StudyInfo holds study metadata for export
type StudyInfo struct {
	ID          string
	Title       string
	Description string
	Status      string
	UpdatedAt   time.Time
}

// BlockInfo holds one block of the study design
type BlockInfo struct {
	ID    string
	Type  string
	Title string
}

// SessionInfo holds one participant session
type SessionInfo struct {
	ID            string
	ParticipantID string
	Status        string
	CurrentStep   int
	Responses     map[string]any
	Feedback      string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
