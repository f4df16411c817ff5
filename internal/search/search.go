package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	SiteName   string `json:"siteName"`
	ClientName string `json:"clientName"`
	Status     string `json:"status"`
	Snippet    string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string // empty = all statuses
	Limit        int
	Offset       int
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

// SurveyRecord is the data we index per survey.
type SurveyRecord struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	SiteName   string `json:"siteName"`
	ClientName string `json:"clientName"`
	Surveyor   string `json:"surveyor"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
}
