// Package dedup collapses beliefs that were extracted more than once, which
// happens when a speaker restates a view in several chunks.
package dedup

import (
	"log/slog"
	"sort"

	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
)

// DefaultThreshold is the token similarity above which two beliefs are
// treated as the same statement.
const DefaultThreshold = 0.8

// Result summarises a deduplication pass.
type Result struct {
	Threshold  float64         `json:"threshold"`
	Clusters   int             `json:"clusters"`
	TotalItems int             `json:"total_items"`
	Deduped    int             `json:"deduped"`
	Details    []ClusterDetail `json:"details,omitempty"`
}

// ClusterDetail describes one group of duplicates by report position.
type ClusterDetail struct {
	Survivor int   `json:"survivor"`
	Deduped  []int `json:"deduped"`
	Size     int   `json:"size"`
}

// Deduplicator removes near-duplicate beliefs from a report.
type Deduplicator struct {
	scanner   *Scanner
	threshold float64
	logger    *slog.Logger
}

// New creates a deduplicator. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64, logger *slog.Logger) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{
		scanner:   NewScanner(threshold),
		threshold: threshold,
		logger:    logger,
	}
}

// Deduplicate returns a copy of report keeping one survivor per cluster of
// similar beliefs. Survivors stay at their original position so chunk order
// is preserved. Errors and the chunk count are carried over unchanged.
func (d *Deduplicator) Deduplicate(report aggregate.Report) (aggregate.Report, Result) {
	result := Result{Threshold: d.threshold, TotalItems: len(report.Beliefs)}

	texts := make([]string, len(report.Beliefs))
	for i, it := range report.Beliefs {
		texts[i] = it.Belief.Belief
	}
	pairs := d.scanner.FindDuplicates(texts)

	dropped := make(map[int]bool)
	for _, cluster := range clusterPairs(pairs) {
		survivor := Rank(report.Beliefs, cluster)
		detail := ClusterDetail{Survivor: survivor, Size: len(cluster)}
		for _, pos := range cluster {
			if pos != survivor {
				dropped[pos] = true
				detail.Deduped = append(detail.Deduped, pos)
			}
		}
		result.Details = append(result.Details, detail)
	}
	result.Clusters = len(result.Details)
	result.Deduped = len(dropped)

	out := aggregate.Report{
		Chunks:  report.Chunks,
		Beliefs: make([]aggregate.Item, 0, len(report.Beliefs)-len(dropped)),
		Errors:  report.Errors,
	}
	for i, it := range report.Beliefs {
		if !dropped[i] {
			out.Beliefs = append(out.Beliefs, it)
		}
	}

	if d.logger != nil {
		d.logger.Info("deduplication completed", "clusters", result.Clusters, "deduped", result.Deduped, "kept", len(out.Beliefs))
	}
	return out, result
}

// clusterPairs groups duplicate pairs into connected components using
// union-find. Members of each cluster are sorted and clusters are ordered
// by their first member.
func clusterPairs(pairs []DuplicatePair) [][]int {
	if len(pairs) == 0 {
		return nil
	}

	parent := make(map[int]int)
	for _, p := range pairs {
		if _, ok := parent[p.A]; !ok {
			parent[p.A] = p.A
		}
		if _, ok := parent[p.B]; !ok {
			parent[p.B] = p.B
		}
	}

	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x]) // path compression
		}
		return parent[x]
	}

	for _, p := range pairs {
		ra, rb := find(p.A), find(p.B)
		if ra != rb {
			parent[rb] = ra
		}
	}

	groups := make(map[int][]int)
	for x := range parent {
		root := find(x)
		groups[root] = append(groups[root], x)
	}

	clusters := make([][]int, 0, len(groups))
	for _, members := range groups {
		if len(members) > 1 {
			sort.Ints(members)
			clusters = append(clusters, members)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}
