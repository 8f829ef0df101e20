// Package stats computes bibliometric indicators. The calculations are pure
// functions over citation counts; the Aggregator layers persistence on top,
// so every derived value can be rebuilt from publication data at any time.
package stats

import (
	"math"
	"sort"

	"github.com/amirshapkota/research-index/internal/domain"
)

// HIndex returns the largest h such that at least h publications have h or
// more citations each.
func HIndex(citations []int) int {
	sorted := make([]int, len(citations))
	copy(sorted, citations)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	h := 0
	for i, c := range sorted {
		if c >= i+1 {
			h = i + 1
		} else {
			break
		}
	}
	return h
}

// I10Index returns the number of publications with at least 10 citations.
func I10Index(citations []int) int {
	count := 0
	for _, c := range citations {
		if c >= 10 {
			count++
		}
	}
	return count
}

// AverageCitations returns totalCitations spread over publicationCount,
// rounded to two decimals. Zero publications yield zero, not NaN.
func AverageCitations(totalCitations, publicationCount int) float64 {
	if publicationCount == 0 {
		return 0
	}
	return round2(float64(totalCitations) / float64(publicationCount))
}

// ImpactFactor returns the average citations of publications from the
// evaluation year and the prior calendar year. Publications outside that
// window do not contribute. Zero qualifying publications yield zero.
func ImpactFactor(pubs []*domain.Publication, evaluationYear int) float64 {
	citations, count := 0, 0
	for _, p := range pubs {
		if p.PublishedYear == evaluationYear || p.PublishedYear == evaluationYear-1 {
			citations += p.CitationCount
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return round2(float64(citations) / float64(count))
}

// CiteScore returns the average citations across all publications of a
// venue regardless of publication year, rounded to two decimals.
func CiteScore(pubs []*domain.Publication) float64 {
	if len(pubs) == 0 {
		return 0
	}
	total := 0
	for _, p := range pubs {
		total += p.CitationCount
	}
	return round2(float64(total) / float64(len(pubs)))
}

// CitationCounts extracts the citation counts of the given publications.
func CitationCounts(pubs []*domain.Publication) []int {
	counts := make([]int, len(pubs))
	for i, p := range pubs {
		counts[i] = p.CitationCount
	}
	return counts
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
