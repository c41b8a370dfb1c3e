// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"os"

	"github.com/gomlx/deepcluster/pkg/kmeans"
	"github.com/gomlx/deepcluster/pkg/models"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// ExecContext holds the execution resources of a training run. It is passed explicitly
// to the components that run computations.
type ExecContext struct {
	// Backend runs the model computations (CPU or accelerator).
	Backend backends.Backend

	// Seed for the shuffling of batches and the initialization of k-means.
	Seed uint64

	// Workers is the number of goroutines used for CPU work (k-means). If <= 0, the number of CPUs is used.
	Workers int

	// ShowProgress displays progress bars for the embedding and training passes.
	ShowProgress bool
}

// Clusterer partitions the samples of a Dataset.
type Clusterer interface {
	// NumClusters returned by Cluster.
	NumClusters() int

	// Cluster returns the cluster of each sample and the clustering loss. epoch is used to vary the
	// random initialization across epochs.
	Cluster(ds *Dataset, epoch int) (Assignment, float64, error)
}

// ClusteringEngine clusters the embeddings produced by the current model with k-means.
type ClusteringEngine struct {
	exec        ExecContext
	variant     models.Variant
	numClusters int

	batchSize     int
	maxIterations int
	tolerance     float64

	embedExec *context.Exec
}

var _ Clusterer = (*ClusteringEngine)(nil)

// NewClusteringEngine creates the engine for the model variant whose variables live in ctx.
//
// The embedding batch size and the k-means parameters are read from the hyperparameters
// ParamEmbeddingBatchSize, ParamKMeansMaxIterations and ParamKMeansTolerance.
func NewClusteringEngine(exec ExecContext, ctx *context.Context, variant models.Variant, numClusters int) (*ClusteringEngine, error) {
	if numClusters <= 0 {
		return nil, errors.Wrapf(kmeans.ErrInvalidNumClusters, "got %d clusters", numClusters)
	}
	e := &ClusteringEngine{
		exec:          exec,
		variant:       variant,
		numClusters:   numClusters,
		batchSize:     context.GetParamOr(ctx, ParamEmbeddingBatchSize, 128),
		maxIterations: context.GetParamOr(ctx, ParamKMeansMaxIterations, 20),
		tolerance:     context.GetParamOr(ctx, ParamKMeansTolerance, 1e-4),
	}
	if e.batchSize <= 0 {
		return nil, errors.Errorf("%q must be > 0, got %d", ParamEmbeddingBatchSize, e.batchSize)
	}
	var err error
	e.embedExec, err = context.NewExec(exec.Backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return variant.Embeddings(ctx, images)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create embedding computation for model %q", variant.Name)
	}
	return e, nil
}

// NumClusters implements Clusterer.
func (e *ClusteringEngine) NumClusters() int { return e.numClusters }

// Embeddings computes the embeddings of all samples, in dataset order. It runs only the
// forward pass of the model: no variables are updated.
func (e *ClusteringEngine) Embeddings(ds *Dataset) (*mat.Dense, error) {
	numSamples := ds.Len()
	numBatches := (numSamples + e.batchSize - 1) / e.batchSize
	var bar *progressbar.ProgressBar
	if e.exec.ShowProgress {
		bar = progressbar.NewOptions(numBatches,
			progressbar.OptionSetDescription("embedding"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stderr),
		)
	}

	var embeddings *mat.Dense
	for start := 0; start < numSamples; start += e.batchSize {
		end := min(start+e.batchSize, numSamples)
		images := ds.ImagesBatch(start, end)
		var output *tensors.Tensor
		err := exceptions.TryCatch[error](func() {
			var err error
			output, err = e.embedExec.Exec1(images)
			if err != nil {
				panic(err)
			}
		})
		images.MustFinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to compute embeddings of samples [%d, %d)", start, end)
		}
		dims := output.Shape().Dimensions
		if len(dims) != 2 || dims[0] != end-start {
			output.MustFinalizeAll()
			return nil, errors.Errorf("embeddings should be shaped [%d, dim], got %s", end-start, output.Shape())
		}
		if embeddings == nil {
			embeddings = mat.NewDense(numSamples, dims[1], nil)
		}
		flat := tensors.MustCopyFlatData[float32](output)
		output.MustFinalizeAll()
		for row := range end - start {
			dst := embeddings.RawRowView(start + row)
			for col, v := range flat[row*dims[1] : (row+1)*dims[1]] {
				dst[col] = float64(v)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Close()
	}
	return embeddings, nil
}

// Cluster implements Clusterer: it embeds all samples and partitions them with k-means,
// returning the sum of squared distances of the samples to their centroids as the loss.
func (e *ClusteringEngine) Cluster(ds *Dataset, epoch int) (Assignment, float64, error) {
	if e.numClusters > ds.Len() {
		return nil, 0, errors.Wrapf(kmeans.ErrTooManyClusters, "%d clusters for %d samples", e.numClusters, ds.Len())
	}
	embeddings, err := e.Embeddings(ds)
	if err != nil {
		return nil, 0, err
	}
	result, err := kmeans.New(e.numClusters).
		Seed(e.exec.Seed + uint64(epoch)*0x9e3779b97f4a7c15).
		MaxIterations(e.maxIterations).
		Tolerance(e.tolerance).
		Parallelism(e.exec.Workers).
		Fit(embeddings)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "k-means of epoch %d", epoch)
	}
	klog.V(1).Infof("k-means epoch %d: %d iterations (converged=%v), loss=%.4f, cluster sizes %v",
		epoch, result.Iterations, result.Converged, result.Loss, result.ClusterSizes())

	assignment := make(Assignment, ds.Len())
	for ii, sample := range ds.Samples() {
		assignment[sample.ImgName] = result.Assignments[ii]
	}
	return assignment, result.Loss, nil
}
