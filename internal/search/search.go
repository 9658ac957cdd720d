package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProposal ResultType = "proposal"
	ResultMessage  ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	GroupID     string     `json:"groupId"`
	ProposalID  string     `json:"proposalId,omitempty"`
	EventRoomID string     `json:"eventRoomId,omitempty"`
}

// Query describes a search request. GroupIDs scopes the search to the
// caller's groups; an empty list matches nothing.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	GroupIDs   []string
	Limit      int
	Offset     int
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
	IndexProposal(p ProposalRecord) error
	IndexMessage(m MessageRecord) error
	DeleteProposal(id string) error
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GroupID     string `json:"groupId"`
	Status      string `json:"status"`
}

// MessageRecord is the data we index for an event room message.
type MessageRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	EventRoomID string `json:"eventRoomId"`
	RoomTitle   string `json:"roomTitle"`
	GroupID     string `json:"groupId"`
	UserID      string `json:"userId"`
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
