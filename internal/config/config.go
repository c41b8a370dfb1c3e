// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of a deep clustering run.
//
// The file is organized in sections:
//
//	dataset:
//	  image_root_folder: data/images
//	  groundtruth_label_file: data/labels.json
//	  sample_size: 0          # 0 uses all images.
//	  category_size: 20       # 0 takes it from the ground-truth file.
//	model:
//	  name: cnn
//	training:
//	  n_clusters: 10
//	  img_size: 32
//	  batch_size: 32
//	  num_epochs: 20
//	  checkpoint: out/checkpoint
//	  log_file: out/train.log
//	debug_root: out/debug
//
// Fields not given keep the values of Default.
package config

import (
	"bytes"
	"os"

	"github.com/gomlx/deepcluster/pkg/deepcluster"
	"github.com/gomlx/deepcluster/pkg/imagefolder"
	"github.com/gomlx/deepcluster/pkg/models"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dataset section.
type Dataset struct {
	ImageRootFolder      string `yaml:"image_root_folder"`
	GroundTruthLabelFile string `yaml:"groundtruth_label_file"`
	SampleSize           int    `yaml:"sample_size"`
	CategorySize         int    `yaml:"category_size"`
}

// Model section.
type Model struct {
	Name string `yaml:"name"`
}

// Training section.
type Training struct {
	NumClusters       int     `yaml:"n_clusters"`
	ImgSize           int     `yaml:"img_size"`
	BatchSize         int     `yaml:"batch_size"`
	NumEpochs         int     `yaml:"num_epochs"`
	Checkpoint        string  `yaml:"checkpoint"`
	LogFile           string  `yaml:"log_file"`
	LearningRate      float64 `yaml:"learning_rate"`
	WeightDecay       float64 `yaml:"weight_decay"`
	CheckpointPeriod  int     `yaml:"checkpoint_period"`
	NumCheckpoints    int     `yaml:"num_checkpoints"`
	Seed              uint64  `yaml:"seed"`
	Workers           int     `yaml:"workers"`
	StrictGroundTruth bool    `yaml:"strict_groundtruth"`

	KMeansMaxIterations int     `yaml:"kmeans_max_iterations"`
	KMeansTolerance     float64 `yaml:"kmeans_tolerance"`
	EmbeddingBatchSize  int     `yaml:"embedding_batch_size"`
}

// Config of a training run.
type Config struct {
	Dataset   Dataset  `yaml:"dataset"`
	Model     Model    `yaml:"model"`
	Training  Training `yaml:"training"`
	DebugRoot string   `yaml:"debug_root"`
}

// Default configuration. Paths are left empty.
func Default() *Config {
	return &Config{
		Dataset: Dataset{CategorySize: 0},
		Model:   Model{Name: "cnn"},
		Training: Training{
			NumClusters:      10,
			ImgSize:          32,
			BatchSize:        32,
			NumEpochs:        20,
			LearningRate:     1e-3,
			WeightDecay:      1e-5,
			CheckpointPeriod: 5,
			NumCheckpoints:   3,

			KMeansMaxIterations: 20,
			KMeansTolerance:     1e-4,
			EmbeddingBatchSize:  128,
		},
	}
}

// Load reads the configuration file, over the Default values.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %q", filePath)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", filePath)
	}
	return cfg, nil
}

// Parse the YAML configuration, over the Default values. Unknown fields are an error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	return cfg, nil
}

// Validate checks that the configuration can be used for training.
func (c *Config) Validate() error {
	switch {
	case c.Dataset.ImageRootFolder == "":
		return errors.New("dataset.image_root_folder not set")
	case !imagefolder.Exists(c.Dataset.ImageRootFolder):
		return errors.Errorf("dataset.image_root_folder %q is not a directory", c.Dataset.ImageRootFolder)
	case c.Dataset.GroundTruthLabelFile == "":
		return errors.New("dataset.groundtruth_label_file not set")
	case c.Dataset.SampleSize < 0:
		return errors.Errorf("dataset.sample_size must be >= 0, got %d", c.Dataset.SampleSize)
	case c.Dataset.CategorySize < 0:
		return errors.Errorf("dataset.category_size must be >= 0, got %d", c.Dataset.CategorySize)
	case c.Training.NumClusters <= 0:
		return errors.Errorf("training.n_clusters must be > 0, got %d", c.Training.NumClusters)
	case c.Training.ImgSize <= 0:
		return errors.Errorf("training.img_size must be > 0, got %d", c.Training.ImgSize)
	case c.Training.BatchSize <= 0:
		return errors.Errorf("training.batch_size must be > 0, got %d", c.Training.BatchSize)
	case c.Training.NumEpochs <= 0:
		return errors.Errorf("training.num_epochs must be > 0, got %d", c.Training.NumEpochs)
	case c.Training.CheckpointPeriod <= 0:
		return errors.Errorf("training.checkpoint_period must be > 0, got %d", c.Training.CheckpointPeriod)
	case c.Training.KMeansMaxIterations <= 0:
		return errors.Errorf("training.kmeans_max_iterations must be > 0, got %d", c.Training.KMeansMaxIterations)
	case c.Training.EmbeddingBatchSize <= 0:
		return errors.Errorf("training.embedding_batch_size must be > 0, got %d", c.Training.EmbeddingBatchSize)
	}
	if _, err := models.Lookup(c.Model.Name); err != nil {
		return errors.WithMessage(err, "model.name")
	}
	return nil
}

// Params returns the hyperparameters of the configuration, to be set in the training context.
func (c *Config) Params() map[string]any {
	return map[string]any{
		deepcluster.ParamModel:               c.Model.Name,
		deepcluster.ParamNumClusters:         c.Training.NumClusters,
		deepcluster.ParamBatchSize:           c.Training.BatchSize,
		deepcluster.ParamNumEpochs:           c.Training.NumEpochs,
		deepcluster.ParamCheckpointPeriod:    c.Training.CheckpointPeriod,
		deepcluster.ParamNumCheckpoints:      c.Training.NumCheckpoints,
		deepcluster.ParamCategorySize:        c.Dataset.CategorySize,
		deepcluster.ParamStrictGroundTruth:   c.Training.StrictGroundTruth,
		deepcluster.ParamKMeansMaxIterations: c.Training.KMeansMaxIterations,
		deepcluster.ParamKMeansTolerance:     c.Training.KMeansTolerance,
		deepcluster.ParamEmbeddingBatchSize:  c.Training.EmbeddingBatchSize,
		optimizers.ParamLearningRate:         c.Training.LearningRate,
		optimizers.ParamAdamWeightDecay:      c.Training.WeightDecay,
	}
}

// TrainOptions returns the paths of the configuration as deepcluster.TrainOptions.
func (c *Config) TrainOptions() deepcluster.TrainOptions {
	return deepcluster.TrainOptions{
		CheckpointDir: c.Training.Checkpoint,
		LogFile:       c.Training.LogFile,
		DebugRoot:     c.DebugRoot,
	}
}
