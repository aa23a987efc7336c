// Package imagehash fingerprints images with a perceptual hash so that
// photos of the same scene can be matched after resizing or recompression.
package imagehash

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// HashSize is the side of the DCT coefficient block kept by the hash, so a
// fingerprint always holds HashSize*HashSize bits.
const HashSize = 16

// Fingerprint is a hex encoded perceptual hash. The zero value means
// "no fingerprint" and never matches anything.
type Fingerprint string

// Empty reports whether the fingerprint carries no bits.
func (f Fingerprint) Empty() bool {
	return f == ""
}

// Bits is the number of bits encoded in the fingerprint.
func (f Fingerprint) Bits() int {
	return len(f) * 4
}

// Hash decodes image bytes and returns their perceptual fingerprint. Any
// decode or hashing failure yields an empty fingerprint.
func Hash(data []byte) Fingerprint {
	if len(data) == 0 {
		return ""
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return HashImage(img)
}

// HashImage fingerprints an already decoded image.
func HashImage(img image.Image) Fingerprint {
	if img == nil || img.Bounds().Empty() {
		return ""
	}
	h, err := goimagehash.ExtPerceptionHash(img, HashSize, HashSize)
	if err != nil {
		return ""
	}
	words := h.GetHash()
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint64(buf[i*8:], w)
	}
	return Fingerprint(hex.EncodeToString(buf))
}

// Distance returns the Hamming distance between two fingerprints. ok is false
// when either side is empty, malformed or the lengths differ.
func Distance(a, b Fingerprint) (dist int, ok bool) {
	if a.Empty() || b.Empty() || len(a) != len(b) {
		return 0, false
	}
	for i := 0; i < len(a); i++ {
		x, okA := nibble(a[i])
		y, okB := nibble(b[i])
		if !okA || !okB {
			return 0, false
		}
		dist += bits.OnesCount8(x ^ y)
	}
	return dist, true
}

// Similarity maps the Hamming distance onto [0,1], where 1 means identical.
// Fingerprints that cannot be compared have similarity 0.
func Similarity(a, b Fingerprint) float64 {
	dist, ok := Distance(a, b)
	if !ok {
		return 0
	}
	n := a.Bits()
	return float64(n-dist) / float64(n)
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
