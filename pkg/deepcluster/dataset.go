// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepcluster

import (
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/deepcluster/pkg/imagefolder"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Sample is one image of the Dataset.
type Sample struct {
	// ImgName identifies the image, and is the key used to join with the ground truth.
	ImgName string
	Path    string
}

// Assignment maps each image name to a cluster id.
type Assignment map[string]int

// Dataset holds the decoded images and their working labels (the pseudo-labels of the last
// clustering).
//
// Labels are replaced as a whole with ReplaceAssignment, and are tagged with the epoch
// that produced them. Before the first assignment the Dataset has no labels, and can only be
// used for embedding.
type Dataset struct {
	name    string
	samples []Sample
	pixels  [][]float32
	imgSize int
	index   map[string]int

	mu          sync.Mutex
	labels      []int
	labelsEpoch int
}

// NewDataset creates a Dataset from the samples and their pixels, each shaped
// [imgSize, imgSize, 3] in flat form.
func NewDataset(name string, samples []Sample, pixels [][]float32, imgSize int) (*Dataset, error) {
	if len(samples) == 0 {
		return nil, errors.Errorf("dataset %q has no samples", name)
	}
	if len(samples) != len(pixels) {
		return nil, errors.Errorf("dataset %q has %d samples but %d images", name, len(samples), len(pixels))
	}
	imageLen := imgSize * imgSize * imagefolder.NumChannels
	ds := &Dataset{
		name:        name,
		samples:     samples,
		pixels:      pixels,
		imgSize:     imgSize,
		index:       make(map[string]int, len(samples)),
		labelsEpoch: -1,
	}
	for ii, sample := range samples {
		if _, found := ds.index[sample.ImgName]; found {
			return nil, errors.Errorf("dataset %q has duplicate image name %q", name, sample.ImgName)
		}
		if len(pixels[ii]) != imageLen {
			return nil, errors.Errorf("image %q has %d values, expected %d (%dx%dx%d)",
				sample.ImgName, len(pixels[ii]), imageLen, imgSize, imgSize, imagefolder.NumChannels)
		}
		ds.index[sample.ImgName] = ii
	}
	return ds, nil
}

// LoadDataset scans the image folder, optionally sub-sampling sampleSize images, and
// decodes and resizes them to imgSize x imgSize.
func LoadDataset(root string, sampleSize, imgSize, workers int, seed uint64) (*Dataset, error) {
	entries, err := imagefolder.Scan(root, sampleSize, seed)
	if err != nil {
		return nil, err
	}
	pixels, err := imagefolder.Load(entries, imgSize, workers)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(entries))
	for ii, entry := range entries {
		samples[ii] = Sample{ImgName: entry.ImgName, Path: entry.Path}
	}
	return NewDataset(root, samples, pixels, imgSize)
}

// Name of the dataset.
func (ds *Dataset) Name() string { return ds.name }

// Len returns the number of samples.
func (ds *Dataset) Len() int { return len(ds.samples) }

// ImgSize is the height and width of the images.
func (ds *Dataset) ImgSize() int { return ds.imgSize }

// Samples returns the samples, in dataset order. It should not be modified.
func (ds *Dataset) Samples() []Sample { return ds.samples }

// LabelsEpoch returns the epoch of the current labels, or -1 if none were assigned yet.
func (ds *Dataset) LabelsEpoch() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.labelsEpoch
}

// Label returns the working label of the image, and false if the image is unknown or no
// labels were assigned yet.
func (ds *Dataset) Label(imgName string) (int, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	idx, found := ds.index[imgName]
	if !found || ds.labels == nil {
		return 0, false
	}
	return ds.labels[idx], true
}

// Assignment returns a copy of the current working labels, or nil if none were assigned yet.
func (ds *Dataset) Assignment() Assignment {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.labels == nil {
		return nil
	}
	assignment := make(Assignment, len(ds.samples))
	for ii, sample := range ds.samples {
		assignment[sample.ImgName] = ds.labels[ii]
	}
	return assignment
}

// ReplaceAssignment discards the current labels and sets the ones given, tagged with epoch.
//
// The assignment must cover exactly the samples of the dataset, with cluster ids in
// [0, numClusters). Otherwise, the current labels are left untouched and an error is returned.
func (ds *Dataset) ReplaceAssignment(epoch int, assignment Assignment, numClusters int) error {
	if len(assignment) != len(ds.samples) {
		return errors.Errorf("assignment for epoch %d has %d entries, dataset has %d samples",
			epoch, len(assignment), len(ds.samples))
	}
	labels := make([]int, len(ds.samples))
	for ii, sample := range ds.samples {
		cluster, found := assignment[sample.ImgName]
		if !found {
			return errors.Errorf("assignment for epoch %d is missing image %q", epoch, sample.ImgName)
		}
		if cluster < 0 || cluster >= numClusters {
			return errors.Errorf("assignment for epoch %d gives image %q cluster %d, valid range is [0, %d)",
				epoch, sample.ImgName, cluster, numClusters)
		}
		labels[ii] = cluster
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.labels = labels
	ds.labelsEpoch = epoch
	return nil
}

// imagesTensor returns the images of the given sample indices, shaped [len(indices), imgSize, imgSize, 3].
func (ds *Dataset) imagesTensor(indices []int) *tensors.Tensor {
	imageLen := ds.imgSize * ds.imgSize * imagefolder.NumChannels
	flat := make([]float32, 0, len(indices)*imageLen)
	for _, idx := range indices {
		flat = append(flat, ds.pixels[idx]...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(indices), ds.imgSize, ds.imgSize, imagefolder.NumChannels)
}

// ImagesBatch returns the images of samples [start, end), in dataset order.
func (ds *Dataset) ImagesBatch(start, end int) *tensors.Tensor {
	indices := make([]int, 0, end-start)
	for idx := start; idx < end; idx++ {
		indices = append(indices, idx)
	}
	return ds.imagesTensor(indices)
}

// Batches iterates over shuffled mini-batches of a Dataset, paired with its current labels.
// It implements train.Dataset: each epoch yields len/batchSize full batches (incomplete
// batches are dropped), and Reset reshuffles.
//
// Labels are read when each batch is yielded, so a ReplaceAssignment in between epochs is
// picked up by the next epoch.
type Batches struct {
	ds        *Dataset
	batchSize int
	rng       *rand.Rand

	mu    sync.Mutex
	order []int
	next  int
}

var _ train.Dataset = (*Batches)(nil)

// TrainBatches returns shuffled batches of batchSize samples, shuffled deterministically from seed.
func (ds *Dataset) TrainBatches(batchSize int, seed uint64) (*Batches, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if batchSize > ds.Len() {
		return nil, errors.Errorf("batch size %d larger than the dataset (%d samples): no full batch can be formed",
			batchSize, ds.Len())
	}
	b := &Batches{
		ds:        ds,
		batchSize: batchSize,
		rng:       rand.New(rand.NewPCG(seed, 0xdeadbeef)),
		order:     make([]int, ds.Len()),
	}
	for ii := range b.order {
		b.order[ii] = ii
	}
	b.shuffle()
	return b, nil
}

func (b *Batches) shuffle() {
	b.rng.Shuffle(len(b.order), func(i, j int) { b.order[i], b.order[j] = b.order[j], b.order[i] })
	b.next = 0
}

// Name implements train.Dataset.
func (b *Batches) Name() string { return b.ds.name }

// NumBatches returns the number of batches yielded per epoch.
func (b *Batches) NumBatches() int { return b.ds.Len() / b.batchSize }

// Reset implements train.Dataset, and reshuffles the samples.
func (b *Batches) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shuffle()
}

// Yield implements train.Dataset. Inputs are the images shaped [batch_size, img_size, img_size, 3]
// and labels the cluster ids shaped [batch_size, 1], as int64.
func (b *Batches) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next+b.batchSize > len(b.order) {
		err = io.EOF
		return
	}
	indices := b.order[b.next : b.next+b.batchSize]
	b.next += b.batchSize

	b.ds.mu.Lock()
	if b.ds.labels == nil {
		b.ds.mu.Unlock()
		err = errors.Errorf("dataset %q has no labels assigned yet", b.ds.name)
		return
	}
	batchLabels := make([]int64, len(indices))
	for ii, idx := range indices {
		batchLabels[ii] = int64(b.ds.labels[idx])
	}
	b.ds.mu.Unlock()

	inputs = []*tensors.Tensor{b.ds.imagesTensor(indices)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, len(indices), 1)}
	return
}
