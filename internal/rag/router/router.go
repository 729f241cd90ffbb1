// Package router classifies a user question into a query plan via a light
// LLM call: query type, reformulated search queries, inferred filters, and
// the downstream route to take (SPEC_FULL.md section 4.8).
package router

import (
	"fmt"
	"strings"

	"context"

	"docintel/internal/llm"
	"docintel/internal/observability"
)

// Route is the downstream handling path for a classified question.
type Route string

const (
	RouteSimple   Route = "simple_rag"
	RouteEnhanced Route = "enhanced_rag"
	RouteAgent    Route = "agent"
)

// Scope is a rough estimate of how much of the corpus a question touches.
type Scope string

const (
	ScopeNarrow Scope = "narrow"
	ScopeMedium Scope = "medium"
	ScopeBroad  Scope = "broad"
)

var queryTypes = []string{"factual", "summary", "comparison", "version_diff", "complex_analysis"}

// Plan is the classification result for one question.
type Plan struct {
	QueryType     string
	SearchQueries []string
	Filters       map[string]string
	NeedsMultiDoc bool
	Scope         Scope
	Route         Route
}

// Router classifies questions via the light LLM.
type Router struct {
	Provider llm.Provider
	Model    string
}

// Classify builds a Plan for question, merging any caller-supplied filters
// with filters the LLM infers (caller values win; nil/empty inferred values
// are dropped). On LLM failure or absence of a provider, it falls back to
// simple_rag with the original question as the sole search query.
func (r *Router) Classify(ctx context.Context, question string, callerFilters map[string]string) Plan {
	logger := observability.LoggerWithTrace(ctx)
	fallback := Plan{
		QueryType:     "factual",
		SearchQueries: []string{question},
		Filters:       callerFilters,
		Scope:         ScopeNarrow,
		Route:         RouteSimple,
	}
	if r.Provider == nil {
		return fallback
	}

	typeList := strings.Join(queryTypes, ", ")
	prompt := fmt.Sprintf(classifyPrompt, question, typeList)
	system := fmt.Sprintf(classifySystem, typeList)
	msg, err := r.Provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil, r.Model)
	if err != nil {
		logger.Warn().Err(err).Msg("query classification LLM call failed")
		return fallback
	}

	var parsed struct {
		QueryType     string            `json:"query_type"`
		SearchQueries []string          `json:"search_queries"`
		Filters       map[string]string `json:"filters"`
		NeedsMultiDoc bool              `json:"needs_multi_doc"`
		EstimatedScope string           `json:"estimated_scope"`
		Route         string            `json:"route"`
	}
	if err := llm.DecodeJSON(msg.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("query classification decode failed")
		return fallback
	}

	plan := Plan{
		QueryType:     normalizeQueryType(parsed.QueryType),
		NeedsMultiDoc: parsed.NeedsMultiDoc,
		Scope:         normalizeScope(parsed.EstimatedScope),
	}
	plan.SearchQueries = parsed.SearchQueries
	if len(plan.SearchQueries) == 0 {
		plan.SearchQueries = []string{question}
	}
	if len(plan.SearchQueries) > 2 {
		plan.SearchQueries = plan.SearchQueries[:2]
	}
	plan.Filters = mergeFilters(callerFilters, parsed.Filters)

	plan.Route = Route(parsed.Route)
	if plan.Route == "" {
		plan.Route = deriveRoute(plan.QueryType, plan.NeedsMultiDoc)
	}
	return plan
}

// deriveRoute implements the fallback routing rule used when the LLM omits
// a route: complex_analysis, version_diff, and comparison always escalate
// to the agent; a multi-document summary goes to enhanced_rag; everything
// else takes the simple path.
func deriveRoute(queryType string, needsMultiDoc bool) Route {
	switch queryType {
	case "complex_analysis", "version_diff", "comparison":
		return RouteAgent
	case "summary":
		if needsMultiDoc {
			return RouteEnhanced
		}
	}
	return RouteSimple
}

func normalizeQueryType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, v := range queryTypes {
		if v == t {
			return v
		}
	}
	return "factual"
}

func normalizeScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeMedium:
		return ScopeMedium
	case ScopeBroad:
		return ScopeBroad
	default:
		return ScopeNarrow
	}
}

// mergeFilters overlays inferred filters under caller-supplied ones: a
// caller value always wins, and empty inferred values are dropped.
func mergeFilters(caller, inferred map[string]string) map[string]string {
	if len(caller) == 0 && len(inferred) == 0 {
		return nil
	}
	out := make(map[string]string, len(caller)+len(inferred))
	for k, v := range inferred {
		if v == "" {
			continue
		}
		out[k] = v
	}
	for k, v := range caller {
		if v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

const classifySystem = `You classify a user question about an internal document corpus into a retrieval plan. Respond with strict JSON: {"query_type": string, "search_queries": [string, ...], "filters": {"doc_type": string, "group_id": string}, "needs_multi_doc": bool, "estimated_scope": string, "route": string}. query_type must be one of: %s. Provide at most two reformulated search queries. estimated_scope must be one of: narrow, medium, broad. route must be one of: simple_rag, enhanced_rag, agent, or omitted if unsure.`

const classifyPrompt = `Question: %s

Allowed query types: %s`
