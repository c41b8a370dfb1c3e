// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package deepcluster trains an image embedding model by deep clustering: at each epoch
// the embeddings of all images are clustered with k-means, the clusters become the
// pseudo-labels of the images, and the model is trained for one epoch to predict them.
//
// The quality of the clusters is measured at every epoch against multi-label ground
// truth, see package accuracy.
//
// The main entry point is Train. Its building blocks are:
//
//   - Dataset: the decoded images, and their pseudo-labels replaced as a whole each epoch.
//   - ClusteringEngine: computes embeddings with the current model and clusters them.
//   - ReassignLabels: reclusters, relabels the Dataset and evaluates the new labels.
//   - RunningMetrics: per-epoch running averages.
//
// Hyperparameters are kept in the context.Context, see CreateDefaultContext for the list
// and their default values.
package deepcluster
