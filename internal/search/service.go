// Package search implements the query service: keyword, vector, and hybrid
// search over a repository's indexes, with oversized result text truncated
// through the payload cache.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"repolens/internal/core"
	"repolens/internal/index"
	"repolens/internal/indexhub"
	"repolens/internal/payloadcache"
)

// Mode selects which indexes answer a query.
type Mode string

const (
	// ModeKeyword uses the FTS5 index only.
	ModeKeyword Mode = "keyword"
	// ModeVector uses the vector index only.
	ModeVector Mode = "vector"
	// ModeHybrid combines whichever inputs are present; with both, results
	// are merged by reciprocal rank fusion.
	ModeHybrid Mode = "hybrid"
)

// rrfK is the reciprocal-rank-fusion constant: score = sum 1/(k+rank).
const rrfK = 60

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Request is one search query. Vector carries a pre-computed embedding;
// the server does not embed queries itself.
type Request struct {
	Repo   string    `json:"repo"`
	Query  string    `json:"query,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
	Mode   Mode      `json:"mode,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Result is the response to one search. The rendered result text rides in the
// embedded Truncated: whole in Content when small, or as Preview plus a
// pagination handle when it exceeded the preview budget.
type Result struct {
	Repo       string        `json:"repo"`
	Mode       Mode          `json:"mode"`
	MatchCount int           `json:"match_count"`
	Matches    []index.Match `json:"matches"`
	payloadcache.Truncated
}

// Service answers search requests against the hub's cached indexes.
type Service struct {
	hub      *indexhub.Hub
	payloads *payloadcache.Cache
}

// New creates the search service.
func New(hub *indexhub.Hub, payloads *payloadcache.Cache) *Service {
	return &Service{hub: hub, payloads: payloads}
}

// Search validates the request, resolves the indexes through the hub, runs
// the query in the requested mode, and truncates the rendered result text.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	if req.Repo == "" {
		return nil, core.NewInvalidRequestError("repo is required", nil)
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var matches []index.Match
	var err error

	switch mode {
	case ModeKeyword:
		if req.Query == "" {
			return nil, core.NewInvalidRequestError("keyword mode requires a query", nil)
		}
		matches, err = s.keyword(ctx, req.Repo, req.Query, limit)
	case ModeVector:
		if len(req.Vector) == 0 {
			return nil, core.NewInvalidRequestError("vector mode requires a query vector", nil)
		}
		matches, err = s.vector(ctx, req.Repo, req.Vector, limit)
	case ModeHybrid:
		matches, err = s.hybrid(ctx, req, limit)
	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown search mode: %q", mode), nil)
	}
	if err != nil {
		return nil, err
	}

	truncated, err := s.payloads.TruncateForResponse(ctx, renderMatches(matches))
	if err != nil {
		return nil, err
	}

	return &Result{
		Repo:       req.Repo,
		Mode:       mode,
		MatchCount: len(matches),
		Matches:    matches,
		Truncated:  truncated,
	}, nil
}

func (s *Service) keyword(ctx context.Context, repo, query string, limit int) ([]index.Match, error) {
	idx, err := s.hub.FullText(ctx, repo)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, limit)
}

func (s *Service) vector(ctx context.Context, repo string, vec []float32, limit int) ([]index.Match, error) {
	idx, err := s.hub.Vector(ctx, repo)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, vec, limit)
}

// hybrid runs whichever searches the request carries input for. With both a
// query and a vector the two ranked lists are merged by reciprocal rank
// fusion; with one input it degrades to that single mode.
func (s *Service) hybrid(ctx context.Context, req Request, limit int) ([]index.Match, error) {
	hasQuery := req.Query != ""
	hasVector := len(req.Vector) > 0

	switch {
	case hasQuery && hasVector:
		keyword, err := s.keyword(ctx, req.Repo, req.Query, limit)
		if err != nil {
			return nil, err
		}
		vector, err := s.vector(ctx, req.Repo, req.Vector, limit)
		if err != nil {
			return nil, err
		}
		return rrfMerge(limit, keyword, vector), nil
	case hasQuery:
		return s.keyword(ctx, req.Repo, req.Query, limit)
	case hasVector:
		return s.vector(ctx, req.Repo, req.Vector, limit)
	default:
		return nil, core.NewInvalidRequestError("hybrid mode requires a query, a vector, or both", nil)
	}
}

// rrfMerge fuses ranked match lists by reciprocal rank: each occurrence of a
// chunk contributes 1/(rrfK+rank) to its score, and the merged list is
// ordered by descending fused score. Match.Score carries the fused score.
func rrfMerge(limit int, lists ...[]index.Match) []index.Match {
	type fused struct {
		match index.Match
		score float64
		order int
	}

	byChunk := make(map[string]*fused)
	var keys []string
	for _, list := range lists {
		for rank, m := range list {
			key := fmt.Sprintf("%s:%d", m.Path, m.StartLine)
			f, ok := byChunk[key]
			if !ok {
				f = &fused{match: m, order: len(keys)}
				byChunk[key] = f
				keys = append(keys, key)
			}
			f.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	merged := make([]*fused, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, byChunk[key])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].order < merged[j].order
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}

	out := make([]index.Match, len(merged))
	for i, f := range merged {
		out[i] = f.match
		out[i].Score = f.score
	}
	return out
}

// renderMatches formats matches as the text block clients read, one match per
// stanza. This is the content that gets truncated when large.
func renderMatches(matches []index.Match) string {
	if len(matches) == 0 {
		return "no matches"
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s:%d-%d\n%s", m.Path, m.StartLine, m.EndLine, m.Snippet)
	}
	return b.String()
}
