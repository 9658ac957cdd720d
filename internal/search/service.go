package search

import (
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// local searcher (Postgres FTS or the in-memory index).
type Service struct {
	meili    *Meili
	fallback Searcher
	local    Indexer
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured. When fallback also implements Indexer, writes reach it
// synchronously.
func NewService(meili *Meili, fallback Searcher) *Service {
	s := &Service{meili: meili, fallback: fallback}
	if indexer, ok := fallback.(Indexer); ok {
		s.local = indexer
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProposal indexes a proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexProposal(p ProposalRecord) {
	if s.local != nil {
		_ = s.local.IndexProposal(p)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProposal(p); err != nil {
			log.Printf("search: index proposal %s: %v", p.ID, err)
		}
	}()
}

// IndexMessage indexes an event message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(msg MessageRecord) {
	if s.local != nil {
		_ = s.local.IndexMessage(msg)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(msg); err != nil {
			log.Printf("search: index message %s: %v", msg.ID, err)
		}
	}()
}

// DeleteProposal removes a proposal from the index (fire-and-forget).
func (s *Service) DeleteProposal(id string) {
	if s.local != nil {
		_ = s.local.DeleteProposal(id)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProposal(id); err != nil {
			log.Printf("search: delete proposal %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every record to the indexes. Called during Bootstrap.
func (s *Service) ReindexAll(proposals []ProposalRecord, messages []MessageRecord) {
	if s.local != nil {
		for _, p := range proposals {
			_ = s.local.IndexProposal(p)
		}
		for _, msg := range messages {
			_ = s.local.IndexMessage(msg)
		}
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexProposals(proposals); err != nil {
		log.Printf("search: reindex proposals: %v", err)
	}
	if err := s.meili.IndexMessages(messages); err != nil {
		log.Printf("search: reindex messages: %v", err)
	}
}

// Healthy reports whether any backend can serve queries.
func (s *Service) Healthy() bool {
	if s.meili != nil && s.meili.Healthy() {
		return true
	}
	return s.fallback != nil && s.fallback.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
