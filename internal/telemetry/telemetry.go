// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package telemetry exports the per-epoch training statistics as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/gomlx/deepcluster/pkg/deepcluster"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

const namespace = "deepcluster"

// Metrics holds the gauges updated at the end of every epoch, labeled by dataset.
type Metrics struct {
	registry *prometheus.Registry
	dataset  string

	Epoch                 *prometheus.GaugeVec
	SupervisedLoss        *prometheus.GaugeVec
	KMeansLoss            *prometheus.GaugeVec
	Accuracy              *prometheus.GaugeVec
	InformationalAccuracy *prometheus.GaugeVec
	UnmatchedSamples      *prometheus.GaugeVec
	EpochsTrained         *prometheus.CounterVec
}

func newGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"dataset"})
}

// New creates the metrics for the given dataset name, registered in their own registry.
func New(dataset string) *Metrics {
	m := &Metrics{
		registry:              prometheus.NewRegistry(),
		dataset:               dataset,
		Epoch:                 newGauge("epoch", "Last completed epoch."),
		SupervisedLoss:        newGauge("supervised_loss", "Mean cross-entropy loss over the batches of the last epoch."),
		KMeansLoss:            newGauge("kmeans_loss", "Sum of squared distances of the embeddings to their centroids."),
		Accuracy:              newGauge("accuracy", "Raw accuracy of the majority-vote cluster to label mapping."),
		InformationalAccuracy: newGauge("informational_accuracy", "Accuracy scaled by the fraction of the labels the mapping reaches."),
		UnmatchedSamples:      newGauge("unmatched_samples", "Clustered samples without ground-truth labels."),
		EpochsTrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "epochs_trained_total",
				Help:      "Number of epochs trained by this process.",
			}, []string{"dataset"}),
	}
	m.registry.MustRegister(m.Epoch, m.SupervisedLoss, m.KMeansLoss, m.Accuracy,
		m.InformationalAccuracy, m.UnmatchedSamples, m.EpochsTrained)
	return m
}

// Observe updates the metrics with the statistics of an epoch.
// It can be used as a deepcluster.EpochObserver.
func (m *Metrics) Observe(stats deepcluster.EpochStats) {
	m.Epoch.WithLabelValues(m.dataset).Set(float64(stats.Epoch))
	m.SupervisedLoss.WithLabelValues(m.dataset).Set(stats.Loss)
	m.KMeansLoss.WithLabelValues(m.dataset).Set(stats.ClusteringLoss)
	m.Accuracy.WithLabelValues(m.dataset).Set(stats.Accuracy)
	m.InformationalAccuracy.WithLabelValues(m.dataset).Set(stats.InformationalAccuracy)
	m.UnmatchedSamples.WithLabelValues(m.dataset).Set(float64(stats.NumUnmatched))
	m.EpochsTrained.WithLabelValues(m.dataset).Inc()
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing the metrics under /metrics, in the background.
// The returned server can be closed by the caller.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		klog.Infof("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Errorf("metrics server failed: %+v", err)
		}
	}()
	return srv
}
