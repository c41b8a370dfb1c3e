// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kmeans implements k-means clustering (Lloyd iterations with k-means++ seeding)
// over the rows of a gonum matrix.
//
// Results are deterministic for a given seed, regardless of the parallelism used.
//
// Example:
//
//	result, err := kmeans.New(10).Seed(42).MaxIterations(50).Fit(embeddings)
//	if err != nil { ... }
//	fmt.Printf("loss=%.4f, cluster of first point=%d\n", result.Loss, result.Assignments[0])
package kmeans

import (
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooManyClusters is returned when asking for more clusters than points.
	ErrTooManyClusters = errors.New("number of clusters larger than the number of points")

	// ErrInvalidNumClusters is returned when the number of clusters is not positive.
	ErrInvalidNumClusters = errors.New("number of clusters must be > 0")
)

// Config for a k-means run. Create it with New, configure it and call Fit.
type Config struct {
	numClusters   int
	maxIterations int
	tolerance     float64
	seed          uint64
	parallelism   int
}

// New creates a k-means configuration for numClusters clusters, with defaults of
// 20 iterations, tolerance 1e-4, seed 0 and parallelism set to the number of CPUs.
func New(numClusters int) *Config {
	return &Config{
		numClusters:   numClusters,
		maxIterations: 20,
		tolerance:     1e-4,
		parallelism:   runtime.NumCPU(),
	}
}

// MaxIterations sets the maximum number of Lloyd iterations (centroid updates).
func (c *Config) MaxIterations(n int) *Config {
	c.maxIterations = n
	return c
}

// Tolerance sets the relative improvement of the loss under which the iterations stop.
func (c *Config) Tolerance(tolerance float64) *Config {
	c.tolerance = tolerance
	return c
}

// Seed sets the seed of the k-means++ initialization.
func (c *Config) Seed(seed uint64) *Config {
	c.seed = seed
	return c
}

// Parallelism sets the number of goroutines used to assign points to centroids.
// Values <= 0 mean the number of CPUs.
func (c *Config) Parallelism(n int) *Config {
	c.parallelism = n
	return c
}

// Result of a k-means run.
type Result struct {
	// Assignments holds the cluster of each point (row), in [0, numClusters).
	Assignments []int

	// Centroids is shaped [numClusters, dim].
	Centroids *mat.Dense

	// Loss is the sum over all points of the squared euclidean distance to their centroid.
	Loss float64

	// Iterations is the number of centroid updates executed.
	Iterations int

	// Converged is false if it stopped because of MaxIterations.
	Converged bool
}

// ClusterSizes returns the number of points assigned to each cluster.
func (r *Result) ClusterSizes() []int {
	numClusters, _ := r.Centroids.Dims()
	sizes := make([]int, numClusters)
	for _, c := range r.Assignments {
		sizes[c]++
	}
	return sizes
}

type state struct {
	*Config
	points      *mat.Dense
	numPoints   int
	dim         int
	centroids   *mat.Dense
	assignments []int
	sqDistances []float64
	rng         *rand.Rand
}

// Fit clusters the rows of points.
func (c *Config) Fit(points *mat.Dense) (*Result, error) {
	if c.numClusters <= 0 {
		return nil, errors.Wrapf(ErrInvalidNumClusters, "got %d", c.numClusters)
	}
	if points == nil || points.IsEmpty() {
		return nil, errors.Wrapf(ErrTooManyClusters, "%d clusters requested for 0 points", c.numClusters)
	}
	numPoints, dim := points.Dims()
	if c.numClusters > numPoints {
		return nil, errors.Wrapf(ErrTooManyClusters, "%d clusters requested for %d points", c.numClusters, numPoints)
	}

	s := &state{
		Config:      c,
		points:      points,
		numPoints:   numPoints,
		dim:         dim,
		centroids:   mat.NewDense(c.numClusters, dim, nil),
		assignments: make([]int, numPoints),
		sqDistances: make([]float64, numPoints),
		rng:         rand.New(rand.NewPCG(c.seed, 0x9e3779b97f4a7c15)),
	}
	for ii := range s.assignments {
		s.assignments[ii] = -1
	}
	s.initCentroids()

	result := &Result{}
	prevLoss := math.Inf(1)
	for iteration := 0; ; iteration++ {
		changed, err := s.assign()
		if err != nil {
			return nil, err
		}
		loss := floats.Sum(s.sqDistances)
		if iteration > 0 && (!changed || prevLoss-loss <= c.tolerance*prevLoss) {
			result.Converged = true
			result.Iterations = iteration
			result.Loss = loss
			break
		}
		if iteration >= c.maxIterations {
			result.Iterations = iteration
			result.Loss = loss
			break
		}
		s.update()
		prevLoss = loss
	}
	result.Assignments = s.assignments
	result.Centroids = s.centroids
	return result, nil
}

func sqDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// initCentroids with k-means++: each new centroid is sampled with probability proportional
// to the squared distance to the closest centroid already chosen.
func (s *state) initCentroids() {
	first := s.rng.IntN(s.numPoints)
	s.centroids.SetRow(0, s.points.RawRowView(first))
	closest := make([]float64, s.numPoints)
	for ii := range s.numPoints {
		closest[ii] = sqDistance(s.points.RawRowView(ii), s.centroids.RawRowView(0))
	}
	for c := 1; c < s.numClusters; c++ {
		total := floats.Sum(closest)
		chosen := -1
		if total > 0 {
			target := s.rng.Float64() * total
			var cumulative float64
			for ii, d := range closest {
				cumulative += d
				if d > 0 && cumulative >= target {
					chosen = ii
					break
				}
			}
		}
		if chosen < 0 {
			// All points coincide with the current centroids.
			chosen = s.rng.IntN(s.numPoints)
		}
		s.centroids.SetRow(c, s.points.RawRowView(chosen))
		centroid := s.centroids.RawRowView(c)
		for ii := range s.numPoints {
			closest[ii] = min(closest[ii], sqDistance(s.points.RawRowView(ii), centroid))
		}
	}
}

// assign each point to its closest centroid, splitting the points across goroutines.
// Ties go to the lowest centroid index.
func (s *state) assign() (changed bool, err error) {
	parallelism := s.parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	chunkSize := (s.numPoints + parallelism - 1) / parallelism
	chunkChanged := make([]bool, parallelism)
	var g errgroup.Group
	for chunk := range parallelism {
		start := chunk * chunkSize
		end := min(start+chunkSize, s.numPoints)
		if start >= end {
			break
		}
		g.Go(func() error {
			for ii := start; ii < end; ii++ {
				point := s.points.RawRowView(ii)
				best, bestDist := 0, math.Inf(1)
				for c := range s.numClusters {
					d := sqDistance(point, s.centroids.RawRowView(c))
					if d < bestDist {
						best, bestDist = c, d
					}
				}
				if math.IsNaN(bestDist) || math.IsInf(bestDist, 0) {
					return errors.Errorf("point %d has invalid distance %g to its closest centroid", ii, bestDist)
				}
				if s.assignments[ii] != best {
					s.assignments[ii] = best
					chunkChanged[chunk] = true
				}
				s.sqDistances[ii] = bestDist
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return
	}
	for _, c := range chunkChanged {
		changed = changed || c
	}
	return
}

// update moves each centroid to the mean of its points. Empty clusters are re-seeded with
// the point farthest from its own centroid.
func (s *state) update() {
	counts := make([]int, s.numClusters)
	s.centroids.Zero()
	for ii, c := range s.assignments {
		floats.Add(s.centroids.RawRowView(c), s.points.RawRowView(ii))
		counts[c]++
	}
	remaining := make([]int, s.numClusters)
	for c, count := range counts {
		if count > 0 {
			floats.Scale(1/float64(count), s.centroids.RawRowView(c))
		}
		remaining[c] = count
	}
	for c, count := range counts {
		if count > 0 {
			continue
		}
		farthest, farthestDist := -1, -1.0
		for ii, d := range s.sqDistances {
			if remaining[s.assignments[ii]] > 1 && d > farthestDist {
				farthest, farthestDist = ii, d
			}
		}
		if farthest < 0 {
			farthest = s.rng.IntN(s.numPoints)
		}
		s.centroids.SetRow(c, s.points.RawRowView(farthest))
		// The point now sits on the new centroid: don't pick it again for another empty cluster.
		remaining[s.assignments[farthest]]--
		s.sqDistances[farthest] = 0
	}
}
