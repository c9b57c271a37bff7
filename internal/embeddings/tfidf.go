// Package embeddings turns twins into TF-IDF vectors for similarity search.
package embeddings

import (
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/Benny93/twinscope/internal/graph"
)

// TFIDFEmbedder generates TF-IDF based embeddings for twins.
// The vector dimension is the size of the vocabulary it was fitted on.
type TFIDFEmbedder struct {
	mu       sync.RWMutex
	idf      map[string]float64 // term -> IDF score
	docCount int                // number of documents processed
	vocab    map[string]int     // term -> index in embedding vector
}

// NewTFIDFEmbedder creates a new TF-IDF embedder.
func NewTFIDFEmbedder() *TFIDFEmbedder {
	return &TFIDFEmbedder{
		idf:   make(map[string]float64),
		vocab: make(map[string]int),
	}
}

// Fit builds the vocabulary and IDF scores from docs, replacing any
// previous state.
func (e *TFIDFEmbedder) Fit(docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vocab = make(map[string]int)
	e.idf = make(map[string]float64)
	e.docCount = len(docs)

	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if seen[term] {
				continue
			}
			seen[term] = true
			docFreq[term]++
			if _, ok := e.vocab[term]; !ok {
				e.vocab[term] = len(e.vocab)
			}
		}
	}

	// Smoothed: a term present in every document keeps some weight.
	for term, df := range docFreq {
		e.idf[term] = math.Log(1 + float64(e.docCount)/float64(df))
	}
}

// Dimension returns the length of the vectors Embed produces.
func (e *TFIDFEmbedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab)
}

// Embed generates an L2-normalised TF-IDF vector for doc. Terms outside
// the vocabulary are ignored, so an unrelated doc yields the zero vector.
func (e *TFIDFEmbedder) Embed(doc string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	embedding := make([]float32, len(e.vocab))

	tf := make(map[string]int)
	for _, term := range tokenize(doc) {
		tf[term]++
	}
	maxTF := 0
	for _, count := range tf {
		maxTF = max(maxTF, count)
	}

	for term, count := range tf {
		idx, ok := e.vocab[term]
		if !ok {
			continue
		}
		embedding[idx] = float32(float64(count) / float64(maxTF) * e.idf[term])
	}

	norm := 0.0
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range embedding {
			embedding[i] = float32(float64(embedding[i]) / norm)
		}
	}
	return embedding
}

// EmbedTwins fits the embedder on twins and returns one vector per twin,
// in input order.
func (e *TFIDFEmbedder) EmbedTwins(twins []*graph.TwinNode) [][]float32 {
	docs := make([]string, 0, len(twins))
	for _, twin := range twins {
		docs = append(docs, TwinText(twin))
	}
	e.Fit(docs)

	vectors := make([][]float32, len(docs))
	for i, doc := range docs {
		vectors[i] = e.Embed(doc)
	}
	return vectors
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// tokenize splits text into lowercase terms of two or more characters.
// CamelCase words are split, so "PumpController" yields "pump" and
// "controller".
func tokenize(text string) []string {
	text = strings.ToLower(camelBoundary.ReplaceAllString(text, "$1 $2"))

	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})

	filtered := terms[:0]
	for _, term := range terms {
		if len(term) >= 2 {
			filtered = append(filtered, term)
		}
	}
	return filtered
}
