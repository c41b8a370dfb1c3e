// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models holds the registry of embedding model variants trained by deep clustering.
//
// Each variant maps a batch of images shaped [batch_size, height, width, channels] to
// embeddings shaped [batch_size, embedding_dim]. The classifier trained on the pseudo-labels
// is a dense layer on top of the embeddings, one logit per cluster.
//
// Variables are created under the scopes "embedder" and "classifier" of the context given.
package models

import (
	"fmt"
	"slices"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// ErrUnknownVariant is returned by Lookup for names not in the registry.
var ErrUnknownVariant = errors.New("unknown model variant")

const (
	// ParamEmbeddingDim is the hyperparameter with the size of the embeddings. Default is 64.
	ParamEmbeddingDim = "embedding_dim"

	// EmbedderScope is the context scope of the embedding variables.
	EmbedderScope = "embedder"

	// ClassifierScope is the context scope of the classifier (readout) variables.
	ClassifierScope = "classifier"
)

// EmbedFn builds the embeddings of a batch of images.
type EmbedFn func(ctx *context.Context, images *Node) *Node

// Variant of model that can be trained.
type Variant struct {
	Name        string
	Description string
	Embed       EmbedFn
}

var registry = map[string]Variant{
	"fnn": {
		Name:        "fnn",
		Description: "feed-forward network over the flattened pixels",
		Embed:       FnnEmbeddings,
	},
	"cnn": {
		Name:        "cnn",
		Description: "stacked 3x3 convolutions with max-pooling, followed by a dense layer",
		Embed:       CnnEmbeddings,
	},
}

// Lookup returns the variant registered under name.
func Lookup(name string) (Variant, error) {
	variant, found := registry[name]
	if !found {
		return Variant{}, errors.Wrapf(ErrUnknownVariant, "model %q, valid models are %q", name, Names())
	}
	return variant, nil
}

// Usage lists the registered variants with their descriptions, one per line.
func Usage() string {
	var sb strings.Builder
	for _, name := range Names() {
		fmt.Fprintf(&sb, "  %s: %s\n", name, registry[name].Description)
	}
	return sb.String()
}

// Names of the registered variants, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Embeddings returns the L2-normalized embeddings of the images, the features clustered at each epoch.
func (v Variant) Embeddings(ctx *context.Context, images *Node) *Node {
	embeddings := v.Embed(ctx.In(EmbedderScope), images)
	return L2NormalizeWithEpsilon(embeddings, 1e-12, -1)
}

// ModelFn returns a train.ModelFn that outputs the logits over numClusters pseudo-labels.
// The inputs are the images only.
func (v Variant) ModelFn(numClusters int) train.ModelFn {
	return func(ctx *context.Context, _ any, inputs []*Node) []*Node {
		embeddings := v.Embed(ctx.In(EmbedderScope), inputs[0])
		logits := layers.Dense(ctx.In(ClassifierScope), embeddings, true, numClusters)
		return []*Node{logits}
	}
}
