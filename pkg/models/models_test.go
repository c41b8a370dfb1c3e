// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"math"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"cnn", "fnn"}, Names())
	for _, name := range Names() {
		variant, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, variant.Name)
		assert.NotNil(t, variant.Embed)
	}
	_, err := Lookup("resnet9000")
	require.True(t, errors.Is(err, ErrUnknownVariant), "got %v", err)
	assert.ErrorContains(t, err, "resnet9000")

	usage := Usage()
	assert.Contains(t, usage, "  cnn: stacked 3x3 convolutions")
	assert.Contains(t, usage, "  fnn: feed-forward network")
	assert.Less(t, strings.Index(usage, "cnn:"), strings.Index(usage, "fnn:"))
}

func TestVariants(t *testing.T) {
	backend, err := backends.New()
	require.NoError(t, err)
	const (
		batchSize    = 3
		imgSize      = 16
		embeddingDim = 8
		numClusters  = 5
	)
	images := make([]float32, batchSize*imgSize*imgSize*3)
	for ii := range images {
		images[ii] = float32(ii%7)/3 - 1
	}
	imagesT := tensors.FromFlatDataAndDimensions(images, batchSize, imgSize, imgSize, 3)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			variant, err := Lookup(name)
			require.NoError(t, err)
			ctx := context.New().Checked(false)
			ctx.SetParam(ParamEmbeddingDim, embeddingDim)

			embedExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
				return variant.Embeddings(ctx, images)
			})
			require.NoError(t, err)
			embeddings, err := embedExec.Exec1(imagesT)
			require.NoError(t, err)
			assert.Equal(t, []int{batchSize, embeddingDim}, embeddings.Shape().Dimensions)
			flat := tensors.MustCopyFlatData[float32](embeddings)
			for row := range batchSize {
				var norm2 float64
				for _, v := range flat[row*embeddingDim : (row+1)*embeddingDim] {
					norm2 += float64(v) * float64(v)
				}
				assert.InDelta(t, 1.0, math.Sqrt(norm2), 1e-3)
			}

			// The classifier shares the embedder variables.
			modelFn := variant.ModelFn(numClusters)
			logitsExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
				return modelFn(ctx, nil, []*Node{images})[0]
			})
			require.NoError(t, err)
			logits, err := logitsExec.Exec1(imagesT)
			require.NoError(t, err)
			assert.Equal(t, []int{batchSize, numClusters}, logits.Shape().Dimensions)
		})
	}
}
