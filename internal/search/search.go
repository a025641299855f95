package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultStudy   ResultType = "study"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	StudyID string     `json:"studyId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string
	Limit        int
	Offset       int
	// ParticipantOnly limits hits to what a participant may see: active
	// studies, and no collaboration comments.
	ParticipantOnly bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexStudy(s StudyRecord) error
	IndexComment(c CommentRecord) error
	DeleteStudy(id string) error
	DeleteComment(id string) error
}

// StudyRecord is the data we index for a study.
type StudyRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// CommentRecord is the data we index for a collaboration comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	StudyID    string `json:"studyId"`
	Resolved   bool   `json:"resolved"`
}
