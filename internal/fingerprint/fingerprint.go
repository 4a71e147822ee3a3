// Package fingerprint computes content fingerprints for submitted photos:
// an exact SHA-256 digest for byte-identical duplicate detection and a 64-bit
// difference hash for near-duplicate detection across re-encodes.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/disintegration/imaging"
)

// PHash is a 64-bit perceptual hash. Two photos of the same scene land close
// to each other in Hamming distance even after resizing or recompression.
type PHash uint64

const phashBits = 64

// dHash geometry: each of the 8 rows contributes 8 adjacent-pixel comparisons,
// so the source is shrunk to 9x8 grayscale.
const (
	dhashWidth  = 9
	dhashHeight = 8
)

// Exact returns the hex SHA-256 of the raw bytes. Empty input cannot be
// fingerprinted and fails the whole submission.
func Exact(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("fingerprint: empty input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Perceptual computes the difference hash of the image encoded in data.
// The second return is false when the bytes do not decode as an image; the
// caller then skips the near-duplicate rule and relies on the exact hash only.
func Perceptual(data []byte) (PHash, bool) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, false
	}

	gray := imaging.Grayscale(img)
	small := imaging.Resize(gray, dhashWidth, dhashHeight, imaging.Lanczos)

	var hash PHash
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth-1; x++ {
			left := small.NRGBAAt(x, y).R
			right := small.NRGBAAt(x+1, y).R
			hash <<= 1
			if left < right {
				hash |= 1
			}
		}
	}
	return hash, true
}

// Similarity maps the Hamming distance between two hashes onto [0, 1],
// where 1 means identical bit vectors.
func Similarity(a, b PHash) float64 {
	distance := bits.OnesCount64(uint64(a ^ b))
	return 1 - float64(distance)/float64(phashBits)
}
