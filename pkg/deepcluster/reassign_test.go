// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/deepcluster/pkg/accuracy"
	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parityClusterer assigns the cluster (index+epoch)%numClusters to the sample at index.
type parityClusterer struct {
	numClusters int
	calls       int
	err         error
}

func (c *parityClusterer) NumClusters() int { return c.numClusters }

func (c *parityClusterer) Cluster(ds *Dataset, epoch int) (Assignment, float64, error) {
	c.calls++
	if c.err != nil {
		return nil, 0, c.err
	}
	assignment := make(Assignment, ds.Len())
	for ii, sample := range ds.Samples() {
		assignment[sample.ImgName] = (ii + epoch) % c.numClusters
	}
	return assignment, float64(epoch) * 1.5, nil
}

// parityGroundTruth labels even samples with 0 and odd samples with 1.
func parityGroundTruth(ds *Dataset) groundtruth.Labels {
	labels := make(map[string][]int, ds.Len())
	for ii, sample := range ds.Samples() {
		labels[sample.ImgName] = []int{ii % 2}
	}
	return groundtruth.New(labels)
}

func TestReassignLabels(t *testing.T) {
	ds := syntheticDataset(t, 8, 2)
	gt := parityGroundTruth(ds)
	clusterer := &parityClusterer{numClusters: 2}
	debugRoot := filepath.Join(t.TempDir(), "debug")

	for _, epoch := range []int{1, 2} {
		result, err := ReassignLabels(ds, clusterer, gt, ReassignOptions{
			Epoch:        epoch,
			CategorySize: 4,
			DebugRoot:    debugRoot,
		})
		require.NoError(t, err)
		assert.Equal(t, epoch, ds.LabelsEpoch())
		assert.InDelta(t, float64(epoch)*1.5, result.ClusteringLoss, 1e-12)

		// No stale labels: the dataset holds exactly the new assignment.
		assert.Equal(t, result.Assignment, ds.Assignment())
		for name, cluster := range result.Assignment {
			got, found := ds.Label(name)
			require.True(t, found)
			require.Equal(t, cluster, got)
		}

		// Clusters follow the parity exactly, whatever the epoch shift.
		assert.InDelta(t, 1.0, result.Accuracy.RawAccuracy, 1e-12)
		assert.InDelta(t, 0.5, result.Accuracy.InformationalAccuracy, 1e-12)

		for _, format := range []string{accuracy.MergedFileFormat, accuracy.MappingFileFormat} {
			_, err := os.Stat(filepath.Join(debugRoot, fmt.Sprintf(format, epoch)))
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 2, clusterer.calls)
}

func TestReassignLabelsErrors(t *testing.T) {
	ds := syntheticDataset(t, 4, 2)
	gt := parityGroundTruth(ds)

	failing := &parityClusterer{numClusters: 2, err: errors.New("boom")}
	_, err := ReassignLabels(ds, failing, gt, ReassignOptions{Epoch: 1, CategorySize: 2})
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, -1, ds.LabelsEpoch())

	// Ground truth without labels for any sample.
	empty := groundtruth.New(map[string][]int{"img_000": nil})
	_, err = ReassignLabels(ds, &parityClusterer{numClusters: 2}, empty, ReassignOptions{Epoch: 1, CategorySize: 2})
	require.True(t, errors.Is(err, accuracy.ErrNoScorableSamples), "got %v", err)
	// Labels were still replaced.
	assert.Equal(t, 1, ds.LabelsEpoch())

	// Strict mode with samples missing from the ground truth.
	partial := groundtruth.New(map[string][]int{"img_000": {0}})
	_, err = ReassignLabels(ds, &parityClusterer{numClusters: 2}, partial,
		ReassignOptions{Epoch: 2, CategorySize: 2, Strict: true})
	require.True(t, errors.Is(err, accuracy.ErrUnmatchedSamples), "got %v", err)

	result, err := ReassignLabels(ds, &parityClusterer{numClusters: 2}, partial,
		ReassignOptions{Epoch: 3, CategorySize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Accuracy.Unmatched, 3)
}
