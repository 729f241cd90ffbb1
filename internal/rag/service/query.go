package service

import (
	"context"
	"sort"

	"docintel/internal/rag/answer"
	"docintel/internal/rag/retrieve"
	"docintel/internal/rag/router"
)

// QueryResult is the outcome of one end-to-end question-answering call.
type QueryResult struct {
	Answer answer.Answer
	Route  router.Route
	Plan   router.Plan
}

// Ask runs the query router, then dispatches to the agent loop when the
// plan routes to it and one is configured; otherwise it runs the hybrid
// retriever (with the zero-result fallback-without-filters retry) and the
// answer generator directly.
func (s *Service) Ask(ctx context.Context, question string, callerFilters map[string]string, accessibleDocIDs []string) (QueryResult, error) {
	plan := s.router.Classify(ctx, question, callerFilters)

	if plan.Route == router.RouteAgent && s.agentLoop != nil {
		res, err := s.agentLoop.Run(ctx, question, accessibleDocIDs)
		if err != nil {
			return QueryResult{Route: plan.Route, Plan: plan}, err
		}
		return QueryResult{Answer: res.Answer, Route: plan.Route, Plan: plan}, nil
	}

	opt := retrieve.Options{
		DocType:          plan.Filters["doc_type"],
		GroupID:          plan.Filters["group_id"],
		AccessibleDocIDs: accessibleDocIDs,
		Rerank:           true,
	}

	hits, err := s.retrieveAll(ctx, plan.SearchQueries, opt)
	if err != nil {
		return QueryResult{Route: plan.Route, Plan: plan}, err
	}
	if len(hits) == 0 && len(plan.Filters) > 0 {
		opt.DocType = ""
		opt.GroupID = ""
		hits, err = s.retrieveAll(ctx, plan.SearchQueries, opt)
		if err != nil {
			return QueryResult{Route: plan.Route, Plan: plan}, err
		}
	}

	titles := s.titlesFor(ctx, hits)

	var ans answer.Answer
	if plan.NeedsMultiDoc && spansMultipleDocs(hits) {
		ans, err = s.answerer.GenerateMultiDoc(ctx, question, hits, titles)
	} else {
		ans, err = s.answerer.Generate(ctx, question, hits, titles)
	}
	if err != nil {
		return QueryResult{Route: plan.Route, Plan: plan}, err
	}

	return QueryResult{Answer: ans, Route: plan.Route, Plan: plan}, nil
}

// retrieveAll runs one retrieval per reformulated query and merges hits by
// chunk id, keeping the highest score seen for each.
func (s *Service) retrieveAll(ctx context.Context, queries []string, opt retrieve.Options) ([]retrieve.RetrievedChunk, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	best := make(map[string]retrieve.RetrievedChunk)
	var order []string
	for _, q := range queries {
		hits, err := s.retriever.Retrieve(ctx, q, opt)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			existing, ok := best[h.Chunk.ID]
			if !ok {
				order = append(order, h.Chunk.ID)
				best[h.Chunk.ID] = h
				continue
			}
			if h.Score > existing.Score {
				best[h.Chunk.ID] = h
			}
		}
	}
	out := make([]retrieve.RetrievedChunk, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *Service) titlesFor(ctx context.Context, hits []retrieve.RetrievedChunk) map[string]string {
	titles := make(map[string]string)
	if s.metadata == nil {
		return titles
	}
	for _, h := range hits {
		if _, ok := titles[h.Chunk.DocID]; ok {
			continue
		}
		doc, found, err := s.metadata.GetDocument(ctx, h.Chunk.DocID)
		if err != nil || !found {
			continue
		}
		titles[h.Chunk.DocID] = doc.Title
	}
	return titles
}

func spansMultipleDocs(hits []retrieve.RetrievedChunk) bool {
	seen := make(map[string]bool)
	for _, h := range hits {
		seen[h.Chunk.DocID] = true
		if len(seen) > 1 {
			return true
		}
	}
	return false
}
