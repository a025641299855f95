package store

import "time"

type Profile struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Study struct {
	ID           string
	Title        string
	Description  string
	Status       string // draft, active, completed
	ResearcherID string
	UpdatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Block is one interactive unit in a study's ordered sequence. Settings holds
// the type-specific configuration as raw JSON text.
type Block struct {
	ID        string
	StudyID   string
	SortOrder int
	Type      string
	Title     string
	Settings  string
}

type Collaborator struct {
	StudyID   string
	UserID    string
	Role      string // viewer, editor, owner
	AddedBy   string
	CreatedAt time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type Comment struct {
	ID         string
	StudyID    string
	BlockID    string
	AuthorID   string
	AuthorName string
	Body       string
	Resolved   bool
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// StudySession is one participant's attempt at a study. Responses and
// DeviceInfo are JSONB columns carried as raw JSON text.
type StudySession struct {
	ID            string
	StudyID       string
	ParticipantID string
	Status        string // in_progress, completed
	CurrentStep   int
	Responses     string
	DeviceInfo    string
	Feedback      string
	StartedAt     time.Time
	EndedAt       *time.Time
	UpdatedAt     time.Time
}

type PaymentRequest struct {
	ID          string
	UserID      string
	Amount      int
	PlanType    string
	Status      string // pending, verified, rejected
	ProcessedBy string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type Credit struct {
	UserID    string
	Balance   int
	PlanType  string
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

type Transaction struct {
	ID          string
	UserID      string
	Amount      int
	Type        string // admin_grant, deduction, purchase
	Description string
	CreatedAt   time.Time
}

type UploadAsset struct {
	ID          string
	StudyID     string
	BlockID     string
	ObjectKey   string
	ContentType string
	Size        int64
	UploadedBy  string
	CreatedAt   time.Time
}

// CommitInfo describes one revision of a study's block list.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
