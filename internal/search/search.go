// Package search finds twins by keyword and by TF-IDF similarity, and
// fuses both rankings with Reciprocal Rank Fusion (RRF).
package search

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Benny93/twinscope/internal/embeddings"
	"github.com/Benny93/twinscope/internal/graph"
)

// RRFConstant is the k of the RRF score 1/(k+rank).
const RRFConstant = 60

// Result is a ranked twin.
type Result struct {
	DTMI        string  `json:"dtmi"`
	DisplayName *string `json:"display_name,omitempty"`
	Score       float64 `json:"score"`
}

// Index is an in-memory search index over a fixed set of twins.
type Index struct {
	twins    []*graph.TwinNode
	postings map[string]map[int]int // token -> twin index -> frequency
	embedder *embeddings.TFIDFEmbedder
	vectors  [][]float32
}

// NewIndex indexes twins.
func NewIndex(twins []*graph.TwinNode) *Index {
	ix := &Index{
		twins:    twins,
		postings: make(map[string]map[int]int),
		embedder: embeddings.NewTFIDFEmbedder(),
	}
	for i, twin := range twins {
		for _, token := range tokenize(embeddings.TwinText(twin)) {
			if ix.postings[token] == nil {
				ix.postings[token] = make(map[int]int)
			}
			ix.postings[token][i]++
		}
	}
	ix.vectors = ix.embedder.EmbedTwins(twins)
	return ix
}

// Keyword ranks twins by the summed frequency of the query's tokens.
// A non-positive limit returns every match.
func (ix *Index) Keyword(query string, limit int) []Result {
	scores := make(map[int]float64)
	seen := make(map[string]bool)
	for _, token := range tokenize(query) {
		if seen[token] {
			continue
		}
		seen[token] = true
		for i, freq := range ix.postings[token] {
			scores[i] += float64(freq)
		}
	}
	return ix.ranked(scores, limit)
}

// Similar ranks twins by cosine similarity between the TF-IDF vectors of
// the query and each twin.
func (ix *Index) Similar(query string, limit int) []Result {
	q := ix.embedder.Embed(query)
	scores := make(map[int]float64)
	for i, v := range ix.vectors {
		if s := embeddings.CosineSimilarity(q, v); s > 0 {
			scores[i] = s
		}
	}
	return ix.ranked(scores, limit)
}

// Search combines Keyword and Similar using RRF.
func (ix *Index) Search(query string, limit int) []Result {
	depth := 0
	if limit > 0 {
		depth = limit * 2
	}

	byDTMI := make(map[string]int, len(ix.twins))
	for i, twin := range ix.twins {
		byDTMI[twin.DTMI] = i
	}

	scores := make(map[int]float64)
	for _, list := range [][]Result{ix.Keyword(query, depth), ix.Similar(query, depth)} {
		for rank, r := range list {
			scores[byDTMI[r.DTMI]] += 1.0 / float64(RRFConstant+rank)
		}
	}
	return ix.ranked(scores, limit)
}

func (ix *Index) ranked(scores map[int]float64, limit int) []Result {
	results := make([]Result, 0, len(scores))
	for i, score := range scores {
		if score <= 0 {
			continue
		}
		twin := ix.twins[i]
		results = append(results, Result{DTMI: twin.DTMI, DisplayName: twin.DisplayName, Score: score})
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.DTMI, b.DTMI)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Twins searches every twin in g.
func Twins(ctx context.Context, g *graph.Service, query string, limit int) ([]Result, error) {
	twins, err := g.ListTwins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing twins: %w", err)
	}
	return NewIndex(twins).Search(query, limit), nil
}

var (
	separators = regexp.MustCompile(`[_.\-:;/\s]+`)
	camelSplit = regexp.MustCompile(`([a-z])([A-Z])`)
	digitSplit = regexp.MustCompile(`([a-zA-Z])(\d)|(\d)([a-zA-Z])`)
)

// tokenize splits text into words and emits, per word, the lowercase word
// itself plus its camelCase and letter/digit parts. Each token is emitted
// at most once per word, so frequencies count words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range separators.Split(text, -1) {
		if word == "" {
			continue
		}

		parts := map[string]bool{strings.ToLower(word): true}
		for _, part := range strings.Fields(camelSplit.ReplaceAllString(word, "$1 $2")) {
			parts[strings.ToLower(part)] = true
		}
		for _, part := range strings.Fields(digitSplit.ReplaceAllString(word, "$1$3 $2$4")) {
			parts[strings.ToLower(part)] = true
		}

		sorted := make([]string, 0, len(parts))
		for part := range parts {
			sorted = append(sorted, part)
		}
		slices.Sort(sorted)
		tokens = append(tokens, sorted...)
	}
	return tokens
}
