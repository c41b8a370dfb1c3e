// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"github.com/gomlx/deepcluster/pkg/models"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Hyperparameters read from the context.
const (
	// ParamModel is the name of the model variant, see models.Names.
	ParamModel = "model"

	// ParamNumClusters is the number of k-means clusters, and of classifier outputs.
	ParamNumClusters = "n_clusters"

	// ParamBatchSize for the supervised epochs.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the last epoch to train (epochs are numbered from 1).
	ParamNumEpochs = "num_epochs"

	// ParamCheckpointPeriod is the number of epochs between checkpoints.
	ParamCheckpointPeriod = "checkpoint_period"

	// ParamNumCheckpoints is the number of checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamCategorySize is the number of ground-truth categories. If 0, it is taken from the ground-truth file.
	ParamCategorySize = "category_size"

	// ParamStrictGroundTruth makes the evaluation fail if any image has no ground truth.
	ParamStrictGroundTruth = "strict_groundtruth"

	// ParamKMeansMaxIterations is the maximum number of k-means iterations per epoch.
	ParamKMeansMaxIterations = "kmeans_max_iterations"

	// ParamKMeansTolerance is the relative loss improvement under which k-means stops.
	ParamKMeansTolerance = "kmeans_tolerance"

	// ParamEmbeddingBatchSize is the batch size used to compute the embeddings for clustering.
	ParamEmbeddingBatchSize = "embedding_batch_size"

	// ParamLastEpoch is the last completed epoch, saved along with the checkpoints.
	ParamLastEpoch = "deepcluster_last_epoch"
)

// ParamsExcludedFromSaving are the hyperparameters not loaded back from checkpoints, so they
// can be changed when resuming training.
var ParamsExcludedFromSaving = []string{
	ParamNumEpochs, ParamCheckpointPeriod, ParamNumCheckpoints, ParamStrictGroundTruth, ParamEmbeddingBatchSize,
}

// CreateDefaultContext sets the default hyperparameters of a deep clustering run.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamModel:               "cnn",
		ParamNumClusters:         10,
		ParamBatchSize:           32,
		ParamNumEpochs:           20,
		ParamCheckpointPeriod:    5,
		ParamNumCheckpoints:      3,
		ParamCategorySize:        0,
		ParamStrictGroundTruth:   false,
		ParamKMeansMaxIterations: 20,
		ParamKMeansTolerance:     1e-4,
		ParamEmbeddingBatchSize:  128,

		// Model.
		models.ParamEmbeddingDim:    64,
		models.ParamCnnNumLayers:    3,
		models.ParamCnnChannels:     16,
		fnn.ParamNumHiddenLayers:    1,
		fnn.ParamNumHiddenNodes:     128,
		activations.ParamActivation: "relu",

		// Optimizer.
		optimizers.ParamOptimizer:       "adam",
		optimizers.ParamLearningRate:    1e-3,
		optimizers.ParamAdamWeightDecay: 1e-5,
	})
	return ctx
}
