package search

import (
	"testing"
)

func seededService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(nil, NewMemoryIndex())
	svc.ReindexAll(
		[]ProposalRecord{
			{ID: "p1", Title: "Friday climbing", Description: "Bouldering at the north wall", GroupID: "g1", Status: "open"},
			{ID: "p2", Title: "Pizza night", Description: "Margherita only", GroupID: "g1", Status: "open"},
			{ID: "p3", Title: "Climbing trip", Description: "Other group", GroupID: "g2", Status: "open"},
		},
		[]MessageRecord{
			{ID: "m1", Content: "Bring chalk for climbing", EventRoomID: "r1", RoomTitle: "Friday climbing", GroupID: "g1"},
			{ID: "m2", Content: "See you there", EventRoomID: "r1", RoomTitle: "Friday climbing", GroupID: "g1"},
		},
	)
	return svc
}

func TestSearchScopesToGroups(t *testing.T) {
	svc := seededService(t)

	tests := []struct {
		name  string
		query Query
		ids   []string
	}{
		{name: "both types", query: Query{Text: "climbing", GroupIDs: []string{"g1"}}, ids: []string{"p1", "m1"}},
		{name: "other group", query: Query{Text: "climbing", GroupIDs: []string{"g2"}}, ids: []string{"p3"}},
		{name: "no groups", query: Query{Text: "climbing"}, ids: nil},
		{name: "proposals only", query: Query{Text: "climbing", GroupIDs: []string{"g1"}, FilterType: ResultProposal}, ids: []string{"p1"}},
		{name: "all terms required", query: Query{Text: "pizza climbing", GroupIDs: []string{"g1"}}, ids: nil},
		{name: "case insensitive", query: Query{Text: "MARGHERITA", GroupIDs: []string{"g1"}}, ids: []string{"p2"}},
		{name: "blank query", query: Query{Text: "  ", GroupIDs: []string{"g1"}}, ids: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := svc.Search(tt.query)
			if resp.Results == nil {
				t.Fatal("results should never be nil")
			}
			if len(resp.Results) != len(tt.ids) {
				t.Fatalf("expected %d results, got %+v", len(tt.ids), resp.Results)
			}
			for i, id := range tt.ids {
				if resp.Results[i].ID != id {
					t.Fatalf("result %d: expected %s, got %s", i, id, resp.Results[i].ID)
				}
			}
		})
	}
}

func TestSearchMessageResultCarriesRoom(t *testing.T) {
	svc := seededService(t)
	resp := svc.Search(Query{Text: "chalk", GroupIDs: []string{"g1"}})
	if len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %d", len(resp.Results))
	}
	got := resp.Results[0]
	if got.Type != ResultMessage || got.EventRoomID != "r1" || got.Title != "Friday climbing" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestDeleteProposalRemovesFromIndex(t *testing.T) {
	svc := seededService(t)
	svc.DeleteProposal("p2")
	if resp := svc.Search(Query{Text: "pizza", GroupIDs: []string{"g1"}}); resp.Total != 0 {
		t.Fatalf("expected deleted proposal to vanish, got %+v", resp.Results)
	}
}

func TestMemoryIndexPaging(t *testing.T) {
	idx := NewMemoryIndex()
	for _, id := range []string{"a", "b", "c"} {
		_ = idx.IndexProposal(ProposalRecord{ID: id, Title: "hike", GroupID: "g"})
	}
	results, total, err := idx.Search(Query{Text: "hike", GroupIDs: []string{"g"}, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 3 || len(results) != 2 || results[0].ID != "b" || results[1].ID != "c" {
		t.Fatalf("unexpected page: total=%d %+v", total, results)
	}
}

func TestGroupFilterExpr(t *testing.T) {
	got := groupFilterExpr([]string{"g1", "g\"2"})
	want := `groupId IN ["g1", "g\"2"]`
	if got != want {
		t.Fatalf("groupFilterExpr = %s, want %s", got, want)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "x", GroupIDs: []string{"g"}})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.Healthy() {
		t.Fatal("service without backends should not be healthy")
	}
}
