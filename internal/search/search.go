package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Snippet       string `json:"snippet"`
	StudyID       string `json:"studyID"`
	DataCommons   string `json:"dataCommons"`
	SubmitterName string `json:"submitterName"`
	Status        string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text        string
	DataCommons string // empty = all commons
	Statuses    []string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over submissions.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push submissions into a search index.
type Indexer interface {
	IndexSubmission(rec SubmissionRecord) error
	DeleteSubmission(id string) error
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	StudyID       string `json:"studyID"`
	DataCommons   string `json:"dataCommons"`
	SubmitterName string `json:"submitterName"`
	Status        string `json:"status"`
}
