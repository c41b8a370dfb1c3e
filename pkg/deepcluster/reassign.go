// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"github.com/gomlx/deepcluster/pkg/accuracy"
	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReassignOptions configures ReassignLabels.
type ReassignOptions struct {
	// Epoch tags the new labels and names the debug artifacts.
	Epoch int

	// CategorySize is the number of ground-truth label categories.
	CategorySize int

	// DebugRoot, if not empty, is the directory where the accuracy and mapping tables of the epoch are written.
	DebugRoot string

	// Strict fails the evaluation if any sample has no ground truth.
	Strict bool
}

// ReassignResult is the outcome of ReassignLabels.
type ReassignResult struct {
	Assignment     Assignment
	ClusteringLoss float64
	Accuracy       *accuracy.Result
}

// ReassignLabels reclusters the dataset, replaces all its working labels with the new
// clusters and scores the clustering against the ground truth.
//
// The dataset labels are replaced before the evaluation, so they are updated even if the
// evaluation fails.
func ReassignLabels(ds *Dataset, clusterer Clusterer, gt groundtruth.Labels, opts ReassignOptions) (*ReassignResult, error) {
	assignment, loss, err := clusterer.Cluster(ds, opts.Epoch)
	if err != nil {
		return nil, errors.WithMessagef(err, "clustering of epoch %d", opts.Epoch)
	}
	if err = ds.ReplaceAssignment(opts.Epoch, assignment, clusterer.NumClusters()); err != nil {
		return nil, err
	}

	predictions := make([]accuracy.Prediction, 0, ds.Len())
	for _, sample := range ds.Samples() {
		predictions = append(predictions, accuracy.Prediction{ImgName: sample.ImgName, Cluster: assignment[sample.ImgName]})
	}
	result, err := accuracy.Evaluate(predictions, gt, opts.CategorySize, accuracy.Strict(opts.Strict))
	if err != nil {
		return nil, errors.WithMessagef(err, "evaluation of epoch %d", opts.Epoch)
	}
	if klog.V(2).Enabled() {
		klog.Infof("Cluster to label mapping of epoch %d:\n%s", opts.Epoch, accuracy.MappingTable(result))
	}

	if opts.DebugRoot != "" {
		mergedPath, mappingPath, err := accuracy.WriteDebugArtifacts(opts.DebugRoot, opts.Epoch, result)
		if err != nil {
			return nil, errors.WithMessagef(err, "debug artifacts of epoch %d", opts.Epoch)
		}
		klog.V(1).Infof("Wrote %q and %q", mergedPath, mappingPath)
	}
	return &ReassignResult{
		Assignment:     assignment,
		ClusteringLoss: loss,
		Accuracy:       result,
	}, nil
}
