package search

import (
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is a Searcher and Indexer kept in process memory. It backs
// search when the API runs on the in-memory store.
type MemoryIndex struct {
	mu        sync.RWMutex
	proposals map[string]ProposalRecord
	messages  map[string]MessageRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		proposals: map[string]ProposalRecord{},
		messages:  map[string]MessageRecord{},
	}
}

func (m *MemoryIndex) Healthy() bool {
	return true
}

func (m *MemoryIndex) IndexProposal(p ProposalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
	return nil
}

func (m *MemoryIndex) IndexMessage(msg MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryIndex) DeleteProposal(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.proposals, id)
	return nil
}

// Search matches records containing every query term, case-insensitively.
func (m *MemoryIndex) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 || len(q.GroupIDs) == 0 {
		return nil, 0, nil
	}
	groups := make(map[string]struct{}, len(q.GroupIDs))
	for _, id := range q.GroupIDs {
		groups[id] = struct{}{}
	}
	inScope := func(groupID string) bool {
		_, ok := groups[groupID]
		return ok
	}

	m.mu.RLock()
	var results []Result
	if q.FilterType == "" || q.FilterType == ResultProposal {
		for _, p := range m.proposals {
			if inScope(p.GroupID) && containsAll(p.Title+" "+p.Description, terms) {
				results = append(results, Result{
					Type:       ResultProposal,
					ID:         p.ID,
					Title:      p.Title,
					Snippet:    p.Description,
					GroupID:    p.GroupID,
					ProposalID: p.ID,
				})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		for _, msg := range m.messages {
			if inScope(msg.GroupID) && containsAll(msg.Content, terms) {
				results = append(results, Result{
					Type:        ResultMessage,
					ID:          msg.ID,
					Title:       msg.RoomTitle,
					Snippet:     msg.Content,
					GroupID:     msg.GroupID,
					EventRoomID: msg.EventRoomID,
				})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type == ResultProposal
		}
		return results[i].ID < results[j].ID
	})

	total := len(results)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + defaultLimit(q.Limit)
	if end > total {
		end = total
	}
	return results[offset:end], total, nil
}

func containsAll(text string, terms []string) bool {
	text = strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
