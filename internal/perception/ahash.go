package perception

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"github.com/nfnt/resize"
)

const hashSide = 8

// AverageHash computes a 64-bit perceptual hash of the central region of img.
// The center crop keeps status bars and navigation chrome out of the hash.
func AverageHash(img image.Image) uint64 {
	if img == nil {
		return 0
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0
	}
	crop := centerRect(bounds, 0.6)
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		img = sub.SubImage(crop)
	}

	small := resize.Resize(hashSide, hashSide, img, resize.Bilinear)
	var (
		values [hashSide * hashSide]uint32
		total  uint64
	)
	smallBounds := small.Bounds()
	for y := 0; y < hashSide; y++ {
		for x := 0; x < hashSide; x++ {
			gray := color.GrayModel.Convert(small.At(smallBounds.Min.X+x, smallBounds.Min.Y+y)).(color.Gray)
			values[y*hashSide+x] = uint32(gray.Y)
			total += uint64(gray.Y)
		}
	}
	mean := uint32(total / uint64(len(values)))

	var hash uint64
	for index, value := range values {
		if value > mean {
			hash |= 1 << uint(index)
		}
	}
	return hash
}

// HashImageBytes decodes an encoded image and returns its average hash.
func HashImageBytes(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode frame image: %w", err)
	}
	return AverageHash(img), nil
}

// HammingDistance counts differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func centerRect(bounds image.Rectangle, fraction float64) image.Rectangle {
	width := bounds.Dx()
	height := bounds.Dy()
	cropW := int(float64(width) * fraction)
	cropH := int(float64(height) * fraction)
	if cropW < hashSide || cropH < hashSide {
		return bounds
	}
	x0 := bounds.Min.X + (width-cropW)/2
	y0 := bounds.Min.Y + (height-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}
