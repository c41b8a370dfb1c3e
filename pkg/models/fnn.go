// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

// FnnEmbeddings flattens the images and applies a feed-forward network.
//
// The hidden layers are configured with the fnn hyperparameters (fnn.ParamNumHiddenLayers,
// fnn.ParamNumHiddenNodes, etc.), and the output size with ParamEmbeddingDim.
func FnnEmbeddings(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	embeddingDim := context.GetParamOr(ctx, ParamEmbeddingDim, 64)
	x := Reshape(images, batchSize, -1)
	embeddings := fnn.New(ctx.In("fnn"), x, embeddingDim).Done()
	embeddings.AssertDims(batchSize, embeddingDim)
	return embeddings
}
