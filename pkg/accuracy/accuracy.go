// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package accuracy scores a clustering against multi-label ground truth.
//
// Each cluster is mapped to the ground-truth label that occurs most often among its
// members (majority vote), and the share of (sample, label) pairs that agree with
// their cluster's mapped label is the raw accuracy. Since a degenerate clustering
// that maps every cluster to the same dominant label can still score well, the
// informational accuracy scales the raw accuracy by the fraction of the label
// categories actually reached by the mapping.
package accuracy

import (
	"slices"
	"sort"

	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNoScorableSamples is returned when no (sample, label) pair survives the join with the ground truth.
	ErrNoScorableSamples = errors.New("no scorable samples: no prediction has a ground-truth label")

	// ErrUnmatchedSamples is returned in strict mode when predictions reference images without ground truth.
	ErrUnmatchedSamples = errors.New("predictions reference images missing from the ground truth")

	// ErrInvalidCategorySize is returned when the number of label categories is not positive,
	// or when a ground-truth label id is not smaller than it.
	ErrInvalidCategorySize = errors.New("invalid category size")
)

// Prediction is the cluster assigned to one image.
type Prediction struct {
	ImgName string
	Cluster int
}

// MappingEntry is the majority label selected for one cluster.
type MappingEntry struct {
	Prediction int

	// Label is the ground-truth label with the most rows in the cluster. Ties go to the lowest label id.
	Label int

	// Size is the number of exploded rows of the cluster with Label.
	Size int

	// ClusterRows is the number of exploded rows of the cluster, over all labels.
	ClusterRows int
}

// MergedRecord is one matched sample, with its ground truth and the label its cluster maps to.
type MergedRecord struct {
	ImgName    string
	Prediction int
	Labels     []int

	// MappedLabel is -1 if the cluster has no mapping, which happens when none of its samples has labels.
	MappedLabel int

	// Correct is set when MappedLabel is one of Labels.
	Correct bool
}

// Result of an evaluation.
type Result struct {
	RawAccuracy           float64
	InformationalAccuracy float64

	// Mapping from cluster id to its majority label.
	Mapping map[int]int

	// Entries holds the same mapping with counts, sorted by cluster id.
	Entries []MappingEntry

	// Merged holds the matched samples, in the order of the predictions.
	Merged []MergedRecord

	// NumExploded is the number of (sample, label) rows scored.
	NumExploded int

	// Unmatched lists the predicted image names that have no ground truth. They are not scored.
	Unmatched []string
}

// NumMappedLabels returns the number of distinct labels reached by the mapping.
func (r *Result) NumMappedLabels() int {
	seen := make(map[int]struct{}, len(r.Entries))
	for _, entry := range r.Entries {
		seen[entry.Label] = struct{}{}
	}
	return len(seen)
}

type options struct {
	strict bool
}

// Option configures Evaluate.
type Option func(*options)

// Strict makes Evaluate fail with ErrUnmatchedSamples if any prediction has no ground truth,
// instead of dropping those predictions with a warning.
func Strict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// Unmatched returns the image names of the predictions that are absent from the ground truth,
// in prediction order.
func Unmatched(predictions []Prediction, gt groundtruth.Labels) []string {
	var missing []string
	for _, p := range predictions {
		if _, found := gt[p.ImgName]; !found {
			missing = append(missing, p.ImgName)
		}
	}
	return missing
}

type pairKey struct {
	prediction, label int
}

// Evaluate maps each predicted cluster to its majority ground-truth label and computes
// the raw and the informational accuracies.
//
// Only predictions with a ground-truth entry are scored. Each of them contributes one
// row per ground-truth label, and samples with no labels contribute nothing.
// categorySize is the total number of label categories: every label id must be in [0, categorySize).
func Evaluate(predictions []Prediction, gt groundtruth.Labels, categorySize int, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if categorySize <= 0 {
		return nil, errors.Wrapf(ErrInvalidCategorySize, "got category size %d", categorySize)
	}

	result := &Result{Unmatched: Unmatched(predictions, gt)}
	if len(result.Unmatched) > 0 {
		if o.strict {
			return nil, errors.Wrapf(ErrUnmatchedSamples, "%d of %d predictions have no ground truth (first: %q)",
				len(result.Unmatched), len(predictions), result.Unmatched[0])
		}
		klog.Warningf("accuracy: dropping %d of %d predictions without ground truth (first: %q)",
			len(result.Unmatched), len(predictions), result.Unmatched[0])
	}

	// Explode and count rows per (prediction, label).
	counts := make(map[pairKey]int)
	clusterRows := make(map[int]int)
	result.Merged = make([]MergedRecord, 0, len(predictions)-len(result.Unmatched))
	for _, p := range predictions {
		labels, found := gt[p.ImgName]
		if !found {
			continue
		}
		result.Merged = append(result.Merged, MergedRecord{
			ImgName:     p.ImgName,
			Prediction:  p.Cluster,
			Labels:      labels,
			MappedLabel: -1,
		})
		for _, label := range labels {
			if label < 0 || label >= categorySize {
				return nil, errors.Wrapf(ErrInvalidCategorySize, "image %q has label %d, category size is %d",
					p.ImgName, label, categorySize)
			}
			counts[pairKey{p.Cluster, label}]++
			clusterRows[p.Cluster]++
			result.NumExploded++
		}
	}
	if result.NumExploded == 0 {
		return nil, errors.Wrapf(ErrNoScorableSamples, "%d predictions, %d matched", len(predictions), len(result.Merged))
	}

	// Majority label per prediction: highest count, ties to the lowest label id.
	best := make(map[int]pairKey, len(clusterRows))
	for key, count := range counts {
		current, found := best[key.prediction]
		if !found || count > counts[current] || (count == counts[current] && key.label < current.label) {
			best[key.prediction] = key
		}
	}
	result.Mapping = make(map[int]int, len(best))
	result.Entries = make([]MappingEntry, 0, len(best))
	var totalSelected int
	for prediction, key := range best {
		size := counts[key]
		totalSelected += size
		result.Mapping[prediction] = key.label
		result.Entries = append(result.Entries, MappingEntry{
			Prediction:  prediction,
			Label:       key.label,
			Size:        size,
			ClusterRows: clusterRows[prediction],
		})
	}
	sort.Slice(result.Entries, func(i, j int) bool {
		return result.Entries[i].Prediction < result.Entries[j].Prediction
	})

	for ii := range result.Merged {
		record := &result.Merged[ii]
		if label, found := result.Mapping[record.Prediction]; found {
			record.MappedLabel = label
			record.Correct = slices.Contains(record.Labels, label)
		}
	}

	result.RawAccuracy = float64(totalSelected) / float64(result.NumExploded)
	result.InformationalAccuracy = result.RawAccuracy * float64(result.NumMappedLabels()) / float64(categorySize)
	return result, nil
}
