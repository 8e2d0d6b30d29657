package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyPNG returns a w×h PNG that compresses poorly.
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	r := rand.New(rand.NewPCG(1, 2))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(r.IntN(256)), uint8(r.IntN(256)), uint8(r.IntN(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNoop(t *testing.T) {
	in := []byte("anything")
	out, err := Noop{}.Compress(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestImagingCompressor_ResizesLargePhotos(t *testing.T) {
	in := noisyPNG(t, 400, 200)
	c := NewImagingCompressor(Options{MaxDimension: 100, MaxBytes: 1 << 20})

	out, err := c.Compress(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, len(out), len(in))

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestImagingCompressor_KeepsSmallPhotos(t *testing.T) {
	in := noisyPNG(t, 10, 10)
	c := NewImagingCompressor(DefaultOptions())

	out, err := c.Compress(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestImagingCompressor_RejectsNonImages(t *testing.T) {
	_, err := NewImagingCompressor(DefaultOptions()).Compress(context.Background(), []byte("not an image"))
	assert.Error(t, err)
}

type failing struct{}

func (failing) Compress(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestBestEffort(t *testing.T) {
	in := []byte("photo")

	assert.Equal(t, in, BestEffort(context.Background(), failing{}, in))
	assert.Equal(t, in, BestEffort(context.Background(), nil, in))
	assert.Equal(t, in, BestEffort(context.Background(), Noop{}, in))
}

func TestNewImagingCompressor_Defaults(t *testing.T) {
	c := NewImagingCompressor(Options{})
	assert.Equal(t, DefaultOptions(), c.opts)
}
