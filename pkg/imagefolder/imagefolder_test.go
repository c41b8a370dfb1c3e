// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage writes a solid color PNG.
func writeImage(t *testing.T, filePath string, c color.Color, width, height int) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
	img := imaging.New(width, height, c)
	require.NoError(t, imaging.Save(img, filePath))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "b.png"), color.White, 4, 4)
	writeImage(t, filepath.Join(root, "sub", "a.png"), color.Black, 4, 4)
	writeImage(t, filepath.Join(root, "c.jpg"), color.White, 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("skip"), 0644))

	entries, err := Scan(root, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ImgName)
	assert.Equal(t, filepath.Join(root, "sub", "a.png"), entries[0].Path)
	assert.Equal(t, "b", entries[1].ImgName)
	assert.Equal(t, "c", entries[2].ImgName)

	sampled, err := Scan(root, 2, 7)
	require.NoError(t, err)
	require.Len(t, sampled, 2)
	again, err := Scan(root, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, sampled, again)
	assert.Less(t, sampled[0].ImgName, sampled[1].ImgName)

	// Duplicate names in different folders.
	writeImage(t, filepath.Join(root, "other", "b.png"), color.White, 4, 4)
	_, err = Scan(root, 0, 0)
	require.ErrorContains(t, err, "not unique")

	_, err = Scan(t.TempDir(), 0, 0)
	require.ErrorContains(t, err, "no images")
}

func TestToPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	img.Set(1, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	pixels := ToPixels(img)
	assert.Equal(t, []float32{1, -1, 1, -1, 1, -1}, pixels)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "white.png"), color.White, 10, 6)
	writeImage(t, filepath.Join(root, "black.png"), color.Black, 3, 3)
	entries, err := Scan(root, 0, 0)
	require.NoError(t, err)

	pixels, err := Load(entries, 4, 2)
	require.NoError(t, err)
	require.Len(t, pixels, 2)
	for ii, want := range []float32{-1, 1} { // black, white
		require.Len(t, pixels[ii], 4*4*NumChannels)
		for _, v := range pixels[ii] {
			require.InDelta(t, want, v, 0.01, "image %q", entries[ii].ImgName)
		}
	}

	_, err = Load([]Entry{{ImgName: "missing", Path: filepath.Join(root, "missing.png")}}, 4, 1)
	require.Error(t, err)
	_, err = Load(entries, 0, 1)
	require.Error(t, err)
}
