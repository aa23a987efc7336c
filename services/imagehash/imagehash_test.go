package imagehash_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"civicsync-dispatch/services/imagehash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scene renders an 8x8 grid of flat grey cells. The same seed always yields
// the same picture at any size that is a multiple of 8.
func scene(size int, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	var cells [8][8]uint8
	for y := range cells {
		for x := range cells[y] {
			cells[y][x] = uint8(rng.Intn(256))
		}
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	cell := size / 8
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: cells[y/cell][x/cell]})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestHash(t *testing.T) {
	t.Run("fixed width regardless of image size", func(t *testing.T) {
		small := imagehash.Hash(encodePNG(t, scene(64, 7)))
		large := imagehash.Hash(encodePNG(t, scene(512, 7)))
		require.False(t, small.Empty())
		require.False(t, large.Empty())
		assert.Equal(t, imagehash.HashSize*imagehash.HashSize, small.Bits())
		assert.Equal(t, small.Bits(), large.Bits())
	})

	t.Run("stable for the same bytes", func(t *testing.T) {
		data := encodePNG(t, scene(128, 7))
		assert.Equal(t, imagehash.Hash(data), imagehash.Hash(data))
	})

	t.Run("stable under resize and recompression", func(t *testing.T) {
		original := imagehash.Hash(encodePNG(t, scene(256, 7)))
		resized := imagehash.Hash(encodeJPEG(t, scene(192, 7), 90))
		assert.Greater(t, imagehash.Similarity(original, resized), 0.85)
	})

	t.Run("different scenes are far apart", func(t *testing.T) {
		a := imagehash.Hash(encodePNG(t, scene(128, 1)))
		b := imagehash.Hash(encodePNG(t, scene(128, 2)))
		assert.Less(t, imagehash.Similarity(a, b), 0.85)
	})

	t.Run("garbage yields empty fingerprint", func(t *testing.T) {
		assert.True(t, imagehash.Hash([]byte("definitely not an image")).Empty())
		assert.True(t, imagehash.Hash(nil).Empty())
	})
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b imagehash.Fingerprint
		want float64
	}{
		{"identical", "ff00ff00", "ff00ff00", 1},
		{"all bits differ", "0000", "ffff", 0},
		{"one bit of eight", "00", "01", 7.0 / 8.0},
		{"empty side", "", "ff", 0},
		{"length mismatch", "ff", "ffff", 0},
		{"malformed", "zz", "ff", 0},
		{"case insensitive", "AB", "ab", 1},
		{"exactly 0.85", "00000", "00007", 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imagehash.Similarity(tt.a, tt.b))
		})
	}
}
