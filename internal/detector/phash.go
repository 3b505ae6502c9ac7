package detector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"golang.org/x/image/draw"
)

// hashSize is the grid edge of the perceptual hash. An 8x8 grid yields a
// 64-bit fingerprint.
const hashSize = 8

// maxHashDistance is the largest possible Hamming distance between two
// fingerprints.
const maxHashDistance = hashSize * hashSize

// computeHash produces a perceptual fingerprint of the image: downsample
// to an 8x8 grayscale grid, then set one bit per cell that is at least
// as bright as the grid's mean.
func computeHash(data []byte) (uint64, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	gray := image.NewGray(image.Rect(0, 0, hashSize, hashSize))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	var sum int
	for _, px := range gray.Pix {
		sum += int(px)
	}
	mean := uint8(sum / len(gray.Pix))

	var hash uint64
	for i, px := range gray.Pix {
		if px >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
