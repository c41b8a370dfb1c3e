// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gomlx/deepcluster/pkg/accuracy"
	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/gomlx/deepcluster/pkg/kmeans"
	"github.com/gomlx/deepcluster/pkg/models"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MetricLoss is the name of the supervised loss in the epoch RunningMetrics.
const MetricLoss = "loss"

// EpochStats summarizes one epoch of training.
type EpochStats struct {
	Epoch, NumEpochs int

	// Loss is the mean supervised loss over the batches of the epoch.
	Loss float64

	// ClusteringLoss is the k-means sum of squared distances.
	ClusteringLoss float64

	Accuracy              float64
	InformationalAccuracy float64

	// NumUnmatched is the number of images without ground truth, not scored.
	NumUnmatched int

	// NumMappedLabels is the number of distinct labels the clusters map to.
	NumMappedLabels int

	NumSteps int
	Duration time.Duration
}

// LogLine formats the stats as the line appended to the log file, without the newline.
func (s EpochStats) LogLine() string {
	return fmt.Sprintf("epoch [%d/%d], loss:%.4f, kmeans loss:%.4f, acc:%.4f, informational acc:%.4f",
		s.Epoch, s.NumEpochs, s.Loss, s.ClusteringLoss, s.Accuracy, s.InformationalAccuracy)
}

// EpochObserver is called at the end of each epoch.
type EpochObserver func(stats EpochStats)

// TrainOptions holds the locations and hooks of a training run. Hyperparameters are read
// from the context.
type TrainOptions struct {
	// CheckpointDir, if set, is where the model is loaded from (if a checkpoint exists) and saved to.
	CheckpointDir string

	// LogFile, if set, gets one line appended per epoch.
	LogFile string

	// DebugRoot, if set, gets the accuracy and mapping tables of each epoch.
	DebugRoot string

	// ParamsSet are hyperparameters set by the user, which are not overwritten by the values
	// saved in the checkpoint.
	ParamsSet []string

	// Observer, if set, is called after each epoch.
	Observer EpochObserver
}

// Train alternates reclustering and supervised training for the epochs after the last one
// saved in the checkpoint (if any) up to ParamNumEpochs, inclusive.
//
// Each epoch clusters the embeddings of the current model into pseudo-labels, evaluates them
// against the ground truth, trains the model for one pass over the dataset to predict them and
// appends a line to the log file. The model is checkpointed every ParamCheckpointPeriod epochs
// and at the last epoch.
//
// It returns the stats of the epochs trained.
func Train(exec ExecContext, ctx *context.Context, ds *Dataset, gt *groundtruth.Set, opts TrainOptions) (stats []EpochStats, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		stats, err = runTraining(exec, ctx, ds, gt, opts)
	})
	if panicErr != nil {
		err = panicErr
	}
	return
}

func runTraining(exec ExecContext, ctx *context.Context, ds *Dataset, gt *groundtruth.Set, opts TrainOptions) ([]EpochStats, error) {
	if exec.Backend == nil {
		return nil, errors.New("no backend given in the ExecContext")
	}

	// Resume: loading the checkpoint also loads the hyperparameters saved with it.
	var checkpoint *checkpoints.Handler
	if opts.CheckpointDir != "" {
		var err error
		checkpoint, err = checkpoints.Build(ctx).
			Dir(opts.CheckpointDir).
			Keep(context.GetParamOr(ctx, ParamNumCheckpoints, 3)).
			ExcludeParams(slices.Concat(opts.ParamsSet, ParamsExcludedFromSaving)...).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to open checkpoint %q", opts.CheckpointDir)
		}
	}
	lastEpoch := context.GetParamOr(ctx, ParamLastEpoch, 0)
	if lastEpoch == 0 {
		ctx.RngStateFromSeed(int64(exec.Seed))
	} else {
		klog.Infof("Resuming training after epoch %d", lastEpoch)
	}

	numClusters := context.GetParamOr(ctx, ParamNumClusters, 0)
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 0)
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 0)
	checkpointPeriod := context.GetParamOr(ctx, ParamCheckpointPeriod, 5)
	categorySize := context.GetParamOr(ctx, ParamCategorySize, 0)
	if categorySize <= 0 {
		categorySize = gt.CategorySize
	}
	switch {
	case numClusters <= 0:
		return nil, errors.Wrapf(kmeans.ErrInvalidNumClusters, "%q=%d", ParamNumClusters, numClusters)
	case numClusters > ds.Len():
		return nil, errors.Wrapf(kmeans.ErrTooManyClusters, "%q=%d but the dataset has only %d images",
			ParamNumClusters, numClusters, ds.Len())
	case numEpochs <= 0:
		return nil, errors.Errorf("%q must be > 0, got %d", ParamNumEpochs, numEpochs)
	case checkpointPeriod <= 0:
		return nil, errors.Errorf("%q must be > 0, got %d", ParamCheckpointPeriod, checkpointPeriod)
	case categorySize < gt.CategorySize:
		return nil, errors.Wrapf(accuracy.ErrInvalidCategorySize, "%q=%d but the ground truth has %d categories",
			ParamCategorySize, categorySize, gt.CategorySize)
	}
	variant, err := models.Lookup(context.GetParamOr(ctx, ParamModel, "cnn"))
	if err != nil {
		return nil, err
	}
	batches, err := ds.TrainBatches(batchSize, exec.Seed)
	if err != nil {
		return nil, err
	}
	if lastEpoch >= numEpochs {
		klog.Infof("Already trained %d epochs, %q=%d: nothing to do", lastEpoch, ParamNumEpochs, numEpochs)
		return nil, nil
	}

	// The embedding computation and the trainer share the model variables, and either may create them first.
	modelCtx := ctx.In("model").Checked(false)
	engine, err := NewClusteringEngine(exec, modelCtx, variant, numClusters)
	if err != nil {
		return nil, err
	}
	trainer := train.NewTrainer(exec.Backend, modelCtx, variant.ModelFn(numClusters),
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(modelCtx),
		nil, nil)
	loop := train.NewLoop(trainer)
	if exec.ShowProgress {
		commandline.AttachProgressBar(loop)
	}
	epochMetrics := NewRunningMetrics()
	loop.OnStep("deepcluster_running_loss", 0, func(_ *train.Loop, metrics []*tensors.Tensor) error {
		loss, err := scalarValue(metrics[0])
		if err != nil {
			return err
		}
		epochMetrics.Update(MetricLoss, loss)
		return nil
	})

	var allStats []EpochStats
	for epoch := lastEpoch + 1; epoch <= numEpochs; epoch++ {
		start := time.Now()
		epochMetrics.Reset()
		reassigned, err := ReassignLabels(ds, engine, gt.Labels, ReassignOptions{
			Epoch:        epoch,
			CategorySize: categorySize,
			DebugRoot:    opts.DebugRoot,
			Strict:       context.GetParamOr(ctx, ParamStrictGroundTruth, false),
		})
		if err != nil {
			return allStats, err
		}

		klog.V(1).Infof("epoch [%d/%d] started", epoch, numEpochs)
		if _, err = loop.RunEpochs(batches, 1); err != nil {
			return allStats, errors.WithMessagef(err, "supervised training of epoch %d", epoch)
		}

		stats := EpochStats{
			Epoch:                 epoch,
			NumEpochs:             numEpochs,
			Loss:                  epochMetrics.Read(MetricLoss),
			ClusteringLoss:        reassigned.ClusteringLoss,
			Accuracy:              reassigned.Accuracy.RawAccuracy,
			InformationalAccuracy: reassigned.Accuracy.InformationalAccuracy,
			NumUnmatched:          len(reassigned.Accuracy.Unmatched),
			NumMappedLabels:       reassigned.Accuracy.NumMappedLabels(),
			NumSteps:              epochMetrics.Count(MetricLoss),
			Duration:              time.Since(start),
		}
		allStats = append(allStats, stats)
		klog.Infof("%s (%d steps, %s)", stats.LogLine(), stats.NumSteps, stats.Duration.Round(time.Millisecond))
		if opts.LogFile != "" {
			if err = AppendLog(opts.LogFile, stats.LogLine()); err != nil {
				return allStats, err
			}
		}
		if opts.Observer != nil {
			opts.Observer(stats)
		}

		if checkpoint != nil && (epoch%checkpointPeriod == 0 || epoch == numEpochs) {
			ctx.SetParam(ParamLastEpoch, epoch)
			if err = checkpoint.Save(); err != nil {
				return allStats, errors.WithMessagef(err, "failed to save checkpoint of epoch %d", epoch)
			}
			klog.V(1).Infof("Saved checkpoint of epoch %d to %q", epoch, checkpoint.Dir())
		}
	}
	return allStats, nil
}

func scalarValue(t *tensors.Tensor) (float64, error) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("expected a scalar float loss, got %s", t.Shape())
}

// AppendLog appends line and a newline to the log file, creating it and its directory if needed.
func AppendLog(logFile, line string) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for log file %q", logFile)
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open log file %q", logFile)
	}
	if _, err = f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write to log file %q", logFile)
	}
	return errors.Wrapf(f.Close(), "failed to close log file %q", logFile)
}
