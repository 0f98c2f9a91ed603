package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	white       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red         = color.RGBA{R: 255, A: 255}
	green       = color.RGBA{G: 255, A: 255}
	blue        = color.RGBA{B: 255, A: 255}
	transparent = color.RGBA{}
)

var instant = time.Date(2021, 6, 15, 15, 19, 7, 0, domain.FeedLocation)

// gifLayer encodes a size×size GIF filled with fill and with the given pixels painted.
func gifLayer(t *testing.T, size int, fill color.RGBA, pixels map[image.Point]color.RGBA) []byte {
	t.Helper()
	palette := color.Palette{transparent, white, red, green, blue}
	img := image.NewPaletted(image.Rect(0, 0, size, size), palette)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, fill)
		}
	}
	for p, c := range pixels {
		img.Set(p.X, p.Y, c)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

type fakeSource struct {
	mu     sync.Mutex
	base   []byte
	layers map[domain.LayerKind][]byte
	errs   map[domain.LayerKind]error
	calls  []domain.LayerKind
}

func (f *fakeSource) Layer(_ context.Context, kind domain.LayerKind, _ time.Time) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return f.layers[kind], nil
}

func (f *fakeSource) BaseMap(context.Context) ([]byte, error) {
	if f.base == nil {
		return nil, errors.New("base map missing")
	}
	return f.base, nil
}

func newTestCompositor(t *testing.T, src *fakeSource, enabled bool) (*Compositor, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCompositor(context.Background(), src, enabled, logger, m), m
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestCompose_LayerOrder(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerPredictedIntensity: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{
				image.Pt(0, 0): red,
				image.Pt(1, 1): red,
			}),
			domain.LayerRealtime: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{
				image.Pt(1, 1): blue,
				image.Pt(2, 2): blue,
			}),
			domain.LayerWavefront: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{
				image.Pt(2, 2): green,
			}),
		},
	}
	c, m := newTestCompositor(t, src, true)
	require.True(t, c.Enabled())

	img, err := c.Compose(context.Background(), instant, true)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	assert.Equal(t, red, rgbaAt(img, 0, 0), "predicted intensity over base")
	assert.Equal(t, blue, rgbaAt(img, 1, 1), "realtime over predicted intensity")
	assert.Equal(t, green, rgbaAt(img, 2, 2), "wavefront on top")
	assert.Equal(t, white, rgbaAt(img, 3, 3), "transparent pixels keep the base")
	assert.ElementsMatch(t, []domain.LayerKind{
		domain.LayerRealtime, domain.LayerPredictedIntensity, domain.LayerWavefront,
	}, src.calls)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Compositions.WithLabelValues("success")), 1e-9)
}

func TestCompose_SkipsMismatchedPredictedIntensity(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerPredictedIntensity: gifLayer(t, 2, red, nil),
			domain.LayerRealtime: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{
				image.Pt(1, 1): blue,
			}),
			domain.LayerWavefront: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{
				image.Pt(2, 2): green,
			}),
		},
	}
	c, _ := newTestCompositor(t, src, true)

	img, err := c.Compose(context.Background(), instant, true)
	require.NoError(t, err)

	assert.Equal(t, white, rgbaAt(img, 0, 0), "mismatched predicted intensity is not drawn")
	assert.Equal(t, blue, rgbaAt(img, 1, 1))
	assert.Equal(t, green, rgbaAt(img, 2, 2))
}

func TestCompose_SkipsMismatchedWavefront(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerPredictedIntensity: gifLayer(t, 4, transparent, nil),
			domain.LayerRealtime:           gifLayer(t, 4, transparent, nil),
			domain.LayerWavefront:          gifLayer(t, 3, green, nil),
		},
	}
	c, _ := newTestCompositor(t, src, true)

	img, err := c.Compose(context.Background(), instant, true)
	require.NoError(t, err)
	assert.Equal(t, white, rgbaAt(img, 0, 0))
}

func TestCompose_RealtimeOnly(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerRealtime: gifLayer(t, 4, transparent, map[image.Point]color.RGBA{image.Pt(0, 0): blue}),
		},
	}
	c, _ := newTestCompositor(t, src, true)

	img, err := c.Compose(context.Background(), instant, false)
	require.NoError(t, err)
	assert.Equal(t, blue, rgbaAt(img, 0, 0))
	assert.Equal(t, []domain.LayerKind{domain.LayerRealtime}, src.calls)
}

func TestCompose_LayerFailure(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerRealtime:           gifLayer(t, 4, transparent, nil),
			domain.LayerPredictedIntensity: gifLayer(t, 4, transparent, nil),
		},
		errs: map[domain.LayerKind]error{domain.LayerWavefront: errors.New("404")},
	}
	c, m := newTestCompositor(t, src, true)

	img, err := c.Compose(context.Background(), instant, true)
	require.Error(t, err)
	assert.Nil(t, img)
	assert.ErrorIs(t, err, ErrComposition)
	assert.Contains(t, err.Error(), "wavefront")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Compositions.WithLabelValues("failure")), 1e-9)
}

func TestCompose_UndecodableLayer(t *testing.T) {
	src := &fakeSource{
		base: gifLayer(t, 4, white, nil),
		layers: map[domain.LayerKind][]byte{
			domain.LayerRealtime: []byte("<html>not found</html>"),
		},
	}
	c, _ := newTestCompositor(t, src, true)

	_, err := c.Compose(context.Background(), instant, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposition)
	assert.Contains(t, err.Error(), "decode realtime layer")
}

func TestNewCompositor_Disabled(t *testing.T) {
	src := &fakeSource{base: gifLayer(t, 4, white, nil)}
	c, m := newTestCompositor(t, src, false)

	assert.False(t, c.Enabled())
	_, err := c.Compose(context.Background(), instant, true)
	assert.ErrorIs(t, err, ErrRenderingDisabled)
	assert.Empty(t, src.calls)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.RenderingEnabled), 1e-9)
}

func TestNewCompositor_BaseMapFailureDisables(t *testing.T) {
	c, m := newTestCompositor(t, &fakeSource{}, true)
	assert.False(t, c.Enabled())
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.RenderingEnabled), 1e-9)

	c, m = newTestCompositor(t, &fakeSource{base: []byte("garbage")}, true)
	assert.False(t, c.Enabled())
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.RenderingEnabled), 1e-9)
}

func TestEncodePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, blue)

	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, blue, rgbaAt(decoded, 1, 1))
}
