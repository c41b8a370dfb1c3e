// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

const (
	// ParamCnnNumLayers is the number of convolution blocks. Default is 3.
	ParamCnnNumLayers = "cnn_num_layers"

	// ParamCnnChannels is the number of channels of the first convolution block, doubled at each block. Default is 16.
	ParamCnnChannels = "cnn_channels"
)

// CnnEmbeddings applies blocks of 3x3 convolution, activation and 2x2 max-pooling, and
// then a dense layer over the flattened result.
//
// Pooling stops when the image gets smaller than 4x4.
func CnnEmbeddings(ctx *context.Context, images *Node) *Node {
	images.AssertRank(4) // [batch_size, height, width, channels]
	batchSize := images.Shape().Dimensions[0]
	numLayers := context.GetParamOr(ctx, ParamCnnNumLayers, 3)
	numChannels := context.GetParamOr(ctx, ParamCnnChannels, 16)
	embeddingDim := context.GetParamOr(ctx, ParamEmbeddingDim, 64)

	x := images
	for layerIdx := range numLayers {
		ctx := ctx.Inf("%03d_conv", layerIdx)
		x = layers.Convolution(ctx, x).Channels(numChannels).KernelSize(3).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
		if x.Shape().Dimensions[1] >= 8 && x.Shape().Dimensions[2] >= 8 {
			x = MaxPool(x).Window(2).Done()
		}
		numChannels *= 2
	}
	x = Reshape(x, batchSize, -1)
	embeddings := layers.Dense(ctx.Inf("%03d_dense", numLayers), x, true, embeddingDim)
	embeddings.AssertDims(batchSize, embeddingDim)
	return embeddings
}
