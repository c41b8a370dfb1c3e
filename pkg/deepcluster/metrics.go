// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import "sync"

// RunningMetrics keeps running averages of named values, for the lifetime of one epoch.
type RunningMetrics struct {
	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int
}

// NewRunningMetrics creates an empty RunningMetrics.
func NewRunningMetrics() *RunningMetrics {
	return &RunningMetrics{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Update adds value to the running average of name.
func (m *RunningMetrics) Update(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums[name] += value
	m.counts[name]++
}

// Read returns the average of the values of name, or 0 if there are none.
func (m *RunningMetrics) Read(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.counts[name]
	if count == 0 {
		return 0
	}
	return m.sums[name] / float64(count)
}

// Count returns the number of values of name.
func (m *RunningMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// Reset discards all values.
func (m *RunningMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.sums)
	clear(m.counts)
}
