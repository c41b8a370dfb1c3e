// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package accuracy

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Run("PerfectSeparation", func(t *testing.T) {
		gt := groundtruth.New(map[string][]int{"img1": {0}, "img2": {0}, "img3": {1}})
		preds := []Prediction{{"img1", 0}, {"img2", 0}, {"img3", 1}}
		r, err := Evaluate(preds, gt, 4)
		require.NoError(t, err)
		assert.Equal(t, map[int]int{0: 0, 1: 1}, r.Mapping)
		assert.InDelta(t, 1.0, r.RawAccuracy, 1e-9)
		assert.InDelta(t, 0.5, r.InformationalAccuracy, 1e-9)
		assert.Equal(t, 3, r.NumExploded)
		assert.Empty(t, r.Unmatched)
		assert.Equal(t, []MappingEntry{
			{Prediction: 0, Label: 0, Size: 2, ClusterRows: 2},
			{Prediction: 1, Label: 1, Size: 1, ClusterRows: 1},
		}, r.Entries)
	})

	t.Run("TieGoesToLowestLabel", func(t *testing.T) {
		gt := groundtruth.New(map[string][]int{"img1": {0}, "img2": {1}})
		// Try both orders of predictions, the result must not depend on them.
		for _, preds := range [][]Prediction{
			{{"img1", 0}, {"img2", 0}},
			{{"img2", 0}, {"img1", 0}},
		} {
			r, err := Evaluate(preds, gt, 2)
			require.NoError(t, err)
			assert.Equal(t, map[int]int{0: 0}, r.Mapping)
			assert.InDelta(t, 0.5, r.RawAccuracy, 1e-9)
			assert.InDelta(t, 0.25, r.InformationalAccuracy, 1e-9)
		}
	})

	t.Run("DegenerateCollapse", func(t *testing.T) {
		// 10 images in one cluster, over 4 distinct labels, 60% of them with label 2.
		labels := map[string][]int{}
		var preds []Prediction
		for ii, label := range []int{2, 2, 2, 2, 2, 2, 0, 1, 3, 3} {
			name := fmt.Sprintf("img%02d", ii)
			labels[name] = []int{label}
			preds = append(preds, Prediction{name, 7})
		}
		r, err := Evaluate(preds, groundtruth.New(labels), 4)
		require.NoError(t, err)
		assert.Equal(t, map[int]int{7: 2}, r.Mapping)
		assert.InDelta(t, 0.6, r.RawAccuracy, 1e-9)
		assert.InDelta(t, 0.15, r.InformationalAccuracy, 1e-9)
	})

	t.Run("EmptyLabelSetIsNotScored", func(t *testing.T) {
		gt := groundtruth.New(map[string][]int{"img1": {0}, "img2": {1}, "img3": {}})
		preds := []Prediction{{"img1", 0}, {"img2", 1}, {"img3", 1}}
		r, err := Evaluate(preds, gt, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, r.NumExploded)
		assert.InDelta(t, 1.0, r.RawAccuracy, 1e-9)
		assert.InDelta(t, 1.0, r.InformationalAccuracy, 1e-9)
		require.Len(t, r.Merged, 3)
		assert.Equal(t, "img3", r.Merged[2].ImgName)
		assert.False(t, r.Merged[2].Correct)
	})

	t.Run("MultiLabel", func(t *testing.T) {
		gt := groundtruth.New(map[string][]int{"a": {0, 1}, "b": {1}, "c": {2}})
		preds := []Prediction{{"a", 0}, {"b", 0}, {"c", 1}}
		r, err := Evaluate(preds, gt, 3)
		require.NoError(t, err)
		// Cluster 0 rows: (0,0), (0,1), (0,1) -> label 1 with 2 votes.
		assert.Equal(t, map[int]int{0: 1, 1: 2}, r.Mapping)
		assert.Equal(t, 4, r.NumExploded)
		assert.InDelta(t, 0.75, r.RawAccuracy, 1e-9)
		assert.InDelta(t, 0.5, r.InformationalAccuracy, 1e-9)
		for _, record := range r.Merged {
			assert.True(t, record.Correct, "record %+v", record)
		}
	})
}

func TestEvaluateErrors(t *testing.T) {
	gt := groundtruth.New(map[string][]int{"img1": {}, "img2": {0}})

	_, err := Evaluate([]Prediction{{"img1", 0}}, gt, 2)
	require.True(t, errors.Is(err, ErrNoScorableSamples), "got %v", err)

	_, err = Evaluate(nil, gt, 2)
	require.True(t, errors.Is(err, ErrNoScorableSamples), "got %v", err)

	_, err = Evaluate([]Prediction{{"img2", 0}}, gt, 0)
	require.True(t, errors.Is(err, ErrInvalidCategorySize), "got %v", err)

	// Label ids must be smaller than the category size, or the informational accuracy
	// could exceed the raw accuracy.
	outOfRange := groundtruth.New(map[string][]int{"a": {0}, "b": {1}, "c": {2}})
	_, err = Evaluate([]Prediction{{"a", 0}, {"b", 1}, {"c", 2}}, outOfRange, 2)
	require.True(t, errors.Is(err, ErrInvalidCategorySize), "got %v", err)
	r3, err := Evaluate([]Prediction{{"a", 0}, {"b", 1}, {"c", 2}}, outOfRange, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, r3.InformationalAccuracy, r3.RawAccuracy)

	preds := []Prediction{{"img2", 0}, {"unknown", 1}}
	r, err := Evaluate(preds, gt, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown"}, r.Unmatched)
	assert.InDelta(t, 1.0, r.RawAccuracy, 1e-9)
	assert.Len(t, r.Merged, 1)

	_, err = Evaluate(preds, gt, 2, Strict(true))
	require.True(t, errors.Is(err, ErrUnmatchedSamples), "got %v", err)
}

func randomProblem(rng *rand.Rand, numSamples, numClusters, categorySize int) ([]Prediction, groundtruth.Labels) {
	labels := make(map[string][]int, numSamples)
	preds := make([]Prediction, numSamples)
	for ii := range numSamples {
		name := fmt.Sprintf("img%04d", ii)
		numLabels := rng.IntN(3)
		ids := make([]int, numLabels)
		for jj := range ids {
			ids[jj] = rng.IntN(categorySize)
		}
		labels[name] = ids
		preds[ii] = Prediction{name, rng.IntN(numClusters)}
	}
	return preds, groundtruth.New(labels)
}

func TestEvaluateProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for trial := range 50 {
		categorySize := 2 + rng.IntN(10)
		preds, gt := randomProblem(rng, 5+rng.IntN(60), 1+rng.IntN(8), categorySize)
		r, err := Evaluate(preds, gt, categorySize)
		if errors.Is(err, ErrNoScorableSamples) {
			continue
		}
		require.NoError(t, err, "trial %d", trial)
		assert.GreaterOrEqual(t, r.RawAccuracy, 0.0)
		assert.LessOrEqual(t, r.RawAccuracy, 1.0)
		assert.GreaterOrEqual(t, r.InformationalAccuracy, 0.0)
		assert.LessOrEqual(t, r.InformationalAccuracy, r.RawAccuracy+1e-12)

		// Idempotent.
		again, err := Evaluate(preds, gt, categorySize)
		require.NoError(t, err)
		assert.Equal(t, r.Mapping, again.Mapping)
		assert.Equal(t, r.Entries, again.Entries)
		assert.Equal(t, r.RawAccuracy, again.RawAccuracy)
		assert.Equal(t, r.InformationalAccuracy, again.InformationalAccuracy)
	}
}

func TestInformationalAccuracyMonotonic(t *testing.T) {
	// Two clusters, both perfectly pure: raw accuracy stays 1.0 while the number of
	// distinct mapped labels grows from 1 to 2.
	collapsed := groundtruth.New(map[string][]int{"a": {0}, "b": {0}})
	diverse := groundtruth.New(map[string][]int{"a": {0}, "b": {1}})
	preds := []Prediction{{"a", 0}, {"b", 1}}
	r1, err := Evaluate(preds, collapsed, 4)
	require.NoError(t, err)
	r2, err := Evaluate(preds, diverse, 4)
	require.NoError(t, err)
	assert.Equal(t, r1.RawAccuracy, r2.RawAccuracy)
	assert.Less(t, r1.InformationalAccuracy, r2.InformationalAccuracy)
}

func TestWriteDebugArtifacts(t *testing.T) {
	gt := groundtruth.New(map[string][]int{"img1": {0, 2}, "img2": {0}, "img3": {1}})
	r, err := Evaluate([]Prediction{{"img1", 0}, {"img2", 0}, {"img3", 1}}, gt, 3)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "debug")
	mergedPath, mappingPath, err := WriteDebugArtifacts(dir, 3, r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "accuracy_3.json"), mergedPath)
	assert.Equal(t, filepath.Join(dir, "mapping_3.json"), mappingPath)

	content, err := os.ReadFile(mergedPath)
	require.NoError(t, err)
	var merged []struct {
		ImgName     string `json:"img_name"`
		Prediction  int    `json:"prediction"`
		Label       []int  `json:"label"`
		MappedLabel int    `json:"mapped_label"`
		Correct     bool   `json:"correct"`
	}
	require.NoError(t, json.Unmarshal(content, &merged))
	require.Len(t, merged, 3)
	assert.Equal(t, "img1", merged[0].ImgName)
	assert.Equal(t, []int{0, 2}, merged[0].Label)
	assert.Equal(t, []int{0}, merged[1].Label)
	assert.Equal(t, []int{1}, merged[2].Label)
	assert.Equal(t, 1, merged[2].Prediction)
	assert.True(t, merged[2].Correct)
	assert.Contains(t, string(content), `"label":[0,2]`)

	// The label column of the dataframe itself stays a string.
	assert.Equal(t, []string{"[0,2]", "[0]", "[1]"}, MergedDataFrame(r).Col("label").Records())

	f, err := os.Open(mappingPath)
	require.NoError(t, err)
	mapping := dataframe.ReadJSON(f)
	require.NoError(t, f.Close())
	require.NoError(t, mapping.Err)
	assert.Equal(t, 2, mapping.Nrow())
	assert.Equal(t, []string{"0", "1"}, mapping.Col("label").Records())
}

func TestMappingTable(t *testing.T) {
	gt := groundtruth.New(map[string][]int{"img1": {0}, "img2": {1}, "img3": {1}})
	r, err := Evaluate([]Prediction{{"img1", 0}, {"img2", 1}, {"img3", 1}}, gt, 2)
	require.NoError(t, err)
	report := MappingTable(r)
	assert.Contains(t, report, "cluster")
	assert.Contains(t, report, "100.0%")
	assert.Contains(t, report, "acc=1.0000 informational acc=1.0000")
}
