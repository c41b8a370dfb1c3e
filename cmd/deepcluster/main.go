// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// deepcluster trains an image embedding model by alternating k-means clustering of the embeddings
// with supervised training on the cluster pseudo-labels.
//
// Usage:
//
//	deepcluster -config=train.yaml -set="n_clusters=20;learning_rate=3e-4" -metrics_addr=:9090
//
// Hyperparameters given with -set take precedence over the configuration file.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/gomlx/deepcluster/internal/config"
	"github.com/gomlx/deepcluster/internal/telemetry"
	"github.com/gomlx/deepcluster/pkg/deepcluster"
	"github.com/gomlx/deepcluster/pkg/groundtruth"
	"github.com/gomlx/deepcluster/pkg/models"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig      = flag.String("config", "", "YAML configuration file of the training run.")
	flagMetricsAddr = flag.String("metrics_addr", "", "If set, serve Prometheus metrics on this address, e.g. \":9090\".")
	flagProgress    = flag.Bool("progress", true, "Display progress bars for the embedding and training passes.")
)

func main() {
	ctx := deepcluster.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(out, "\nModels available for model.name in the configuration:\n%s", models.Usage())
	}
	flag.Parse()

	if *flagConfig == "" {
		klog.Fatal("-config is required")
	}
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %+v", err)
	}
	if err = cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration %q: %+v", *flagConfig, err)
	}

	// Configuration values count as set by the user: they are not overwritten by the checkpoint.
	cfgParams := cfg.Params()
	ctx.SetParams(cfgParams)
	paramsSet := slices.Sorted(maps.Keys(cfgParams))
	flagParamsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	paramsSet = append(paramsSet, flagParamsSet...)
	fmt.Println(commandline.SprintContextSettings(ctx))

	backend, err := backends.New()
	if err != nil {
		klog.Fatalf("Failed to create backend: %+v", err)
	}
	defer backend.Finalize()
	exec := deepcluster.ExecContext{
		Backend:      backend,
		Seed:         cfg.Training.Seed,
		Workers:      cfg.Training.Workers,
		ShowProgress: *flagProgress,
	}

	ds, err := deepcluster.LoadDataset(cfg.Dataset.ImageRootFolder, cfg.Dataset.SampleSize,
		cfg.Training.ImgSize, cfg.Training.Workers, cfg.Training.Seed)
	if err != nil {
		klog.Fatalf("Failed to load images: %+v", err)
	}
	gt, err := groundtruth.Load(cfg.Dataset.GroundTruthLabelFile)
	if err != nil {
		klog.Fatalf("Failed to load ground truth: %+v", err)
	}

	opts := cfg.TrainOptions()
	opts.ParamsSet = paramsSet
	if *flagMetricsAddr != "" {
		metrics := telemetry.New(ds.Name())
		srv := metrics.Serve(*flagMetricsAddr)
		defer func() { _ = srv.Close() }()
		opts.Observer = metrics.Observe
	}

	stats, err := deepcluster.Train(exec, ctx, ds, gt, opts)
	if err != nil {
		klog.Fatalf("Training failed: %+v", err)
	}
	if len(stats) == 0 {
		klog.Infof("Nothing to train: model already trained for %d epochs", cfg.Training.NumEpochs)
		return
	}
	last := stats[len(stats)-1]
	fmt.Printf("Trained %d epochs, final accuracy %.4f (informational %.4f)\n",
		len(stats), last.Accuracy, last.InformationalAccuracy)
}
