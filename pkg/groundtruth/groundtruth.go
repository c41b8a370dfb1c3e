// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package groundtruth loads the multi-label ground truth used to score clusterings.
//
// The ground-truth file is a JSON object mapping each image name to a multi-hot
// vector over the label categories:
//
//	{"img_0001": [0, 1, 0, 1], "img_0002": [1, 0, 0, 0]}
//
// An image may carry zero, one or many labels.
package groundtruth

import (
	"encoding/json"
	"os"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Labels maps an image name to its sorted, unique label ids.
type Labels map[string][]int

// Set holds the ground truth of a dataset and the number of label categories it covers.
type Set struct {
	Labels Labels

	// CategorySize is the number of possible label categories: the length of the
	// multi-hot vectors in the file.
	CategorySize int
}

// Load reads the ground-truth file in multi-hot JSON format.
//
// All vectors must have the same length. Values other than 0 and 1 are rejected.
func Load(filePath string) (*Set, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ground-truth file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	var raw map[string][]int
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse ground-truth file %q", filePath)
	}
	set, err := FromMultiHot(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "ground-truth file %q", filePath)
	}
	klog.V(1).Infof("Loaded ground truth for %d images, %d categories, from %q", len(set.Labels), set.CategorySize, filePath)
	return set, nil
}

// FromMultiHot converts multi-hot vectors to a Set.
func FromMultiHot(multiHot map[string][]int) (*Set, error) {
	set := &Set{Labels: make(Labels, len(multiHot)), CategorySize: -1}
	for name, vector := range multiHot {
		if set.CategorySize < 0 {
			set.CategorySize = len(vector)
		} else if len(vector) != set.CategorySize {
			return nil, errors.Errorf("image %q has %d categories, but previous images have %d",
				name, len(vector), set.CategorySize)
		}
		ids := make([]int, 0, 2)
		for idx, v := range vector {
			switch v {
			case 0:
			case 1:
				ids = append(ids, idx)
			default:
				return nil, errors.Errorf("image %q has invalid multi-hot value %d at position %d", name, v, idx)
			}
		}
		set.Labels[name] = ids
	}
	if set.CategorySize < 0 {
		set.CategorySize = 0
	}
	return set, nil
}

// New builds Labels from explicit label ids, sorting and de-duplicating each entry.
func New(labels map[string][]int) Labels {
	gt := make(Labels, len(labels))
	for name, ids := range labels {
		ids = slices.Clone(ids)
		sort.Ints(ids)
		gt[name] = slices.Compact(ids)
	}
	return gt
}
