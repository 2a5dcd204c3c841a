package chooser

import "math"

// bm25Index is a minimal Okapi BM25 scorer over a fixed small corpus of
// agent description documents, grounded on the standard BM25 formula
// the teacher's internal/memory/backend.SearchModeBM25 mode names but
// delegates to its storage backend; this package reimplements the
// scoring directly since the agent corpus is small and in-process.
type bm25Index struct {
	docs     [][]string
	docFreq  map[string]int // term -> number of docs containing it
	docLen   []int
	avgLen   float64
	n        int
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func newBM25(docs [][]string) *bm25Index {
	idx := &bm25Index{docs: docs, docFreq: map[string]int{}, docLen: make([]int, len(docs))}
	var total int
	for i, doc := range docs {
		idx.docLen[i] = len(doc)
		total += len(doc)
		seen := map[string]bool{}
		for _, term := range doc {
			if seen[term] {
				continue
			}
			seen[term] = true
			idx.docFreq[term]++
		}
	}
	idx.n = len(docs)
	if idx.n > 0 {
		idx.avgLen = float64(total) / float64(idx.n)
	}
	return idx
}

// score returns the BM25 score of queryTerms against document docIdx,
// averaged over the number of query terms and then mapped into [0, 1)
// as x/(1+x), so it combines sensibly with a cosine-similarity semantic
// score in the hybrid weighting.
func (idx *bm25Index) score(queryTerms []string, docIdx int) float64 {
	if idx.n == 0 || len(queryTerms) == 0 {
		return 0
	}
	doc := idx.docs[docIdx]
	termFreq := map[string]int{}
	for _, t := range doc {
		termFreq[t]++
	}

	var total float64
	for _, term := range queryTerms {
		df := idx.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(idx.n)-float64(df)+0.5)/(float64(df)+0.5))
		tf := float64(termFreq[term])
		denom := tf + bm25K1*(1-bm25B+bm25B*float64(idx.docLen[docIdx])/maxFloat(idx.avgLen, 1))
		if denom == 0 {
			continue
		}
		total += idf * (tf * (bm25K1 + 1)) / denom
	}
	normalized := total / float64(len(queryTerms))
	return 1 - 1/(1+math.Max(normalized, 0))
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
