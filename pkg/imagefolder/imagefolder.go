// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefolder lists and decodes the images of a folder into normalized pixel arrays.
//
// Images are identified by their file name without extension, which must be unique
// within the folder tree.
package imagefolder

import (
	"image"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Extensions of the files considered images, in lower case.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff"}

// NumChannels of the decoded images (RGB).
const NumChannels = 3

// Entry is one image file found in the folder.
type Entry struct {
	// ImgName is the base name of the file without its extension.
	ImgName string
	Path    string
}

func isImage(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, valid := range Extensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// Scan walks root and returns its images sorted by name.
//
// If sampleSize > 0 and smaller than the number of images found, a random subset of that
// size is selected, deterministically for the given seed, and returned sorted by name.
func Scan(root string, sampleSize int, seed uint64) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]string)
	err := filepath.WalkDir(root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isImage(filePath) {
			return nil
		}
		base := filepath.Base(filePath)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if previous, found := seen[name]; found {
			return errors.Errorf("image name %q is not unique: %q and %q", name, previous, filePath)
		}
		seen[name] = filePath
		entries = append(entries, Entry{ImgName: name, Path: filePath})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan image folder %q", root)
	}
	if len(entries) == 0 {
		return nil, errors.Errorf("no images found in %q", root)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ImgName < entries[j].ImgName })
	if sampleSize > 0 && sampleSize < len(entries) {
		rng := rand.New(rand.NewPCG(seed, uint64(len(entries))))
		rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		entries = entries[:sampleSize]
		sort.Slice(entries, func(i, j int) bool { return entries[i].ImgName < entries[j].ImgName })
	}
	klog.V(1).Infof("Found %s images in %q", humanize.Comma(int64(len(entries))), root)
	return entries, nil
}

// Decode reads the image file and resizes it to size x size.
func Decode(filePath string, size int) (image.Image, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", filePath)
	}
	return imaging.Resize(img, size, size, imaging.Linear), nil
}

// ToPixels converts the image to a flat float32 slice in height, width, channel (RGB) order,
// with values normalized from [0, 1] to [-1, 1].
func ToPixels(img image.Image) []float32 {
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pixels := make([]float32, 0, width*height*NumChannels)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := range width {
			for c := range NumChannels {
				v := float32(row[x*4+c]) / 255
				pixels = append(pixels, (v-0.5)/0.5)
			}
		}
	}
	return pixels
}

// Load decodes all entries, resized to size x size, using up to workers goroutines
// (the number of CPUs if workers <= 0).
//
// It returns one pixel slice (see ToPixels) per entry, in the same order as entries.
func Load(entries []Entry, size, workers int) ([][]float32, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid image size %d", size)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pixels := make([][]float32, len(entries))
	var g errgroup.Group
	g.SetLimit(workers)
	for ii, entry := range entries {
		g.Go(func() error {
			img, err := Decode(entry.Path, size)
			if err != nil {
				return err
			}
			pixels[ii] = ToPixels(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var numBytes uint64
	for _, p := range pixels {
		numBytes += uint64(len(p) * 4)
	}
	klog.V(1).Infof("Decoded %s images of %dx%d (%s)", humanize.Comma(int64(len(entries))), size, size,
		humanize.Bytes(numBytes))
	return pixels, nil
}

// Exists returns whether the folder exists.
func Exists(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}
