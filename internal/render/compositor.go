package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // feed layers are GIF
	"image/png"
	"log/slog"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFetches bounds the layer downloads of a single composition.
const maxConcurrentFetches = 3

var (
	// ErrComposition wraps any layer fetch or decode failure.
	ErrComposition = errors.New("composition failed")
	// ErrRenderingDisabled is returned by Compose when rendering is switched off.
	ErrRenderingDisabled = errors.New("rendering disabled")
)

// LayerSource supplies the raw image bytes the compositor draws.
type LayerSource interface {
	Layer(ctx context.Context, kind domain.LayerKind, t time.Time) ([]byte, error)
	BaseMap(ctx context.Context) ([]byte, error)
}

// Compositor overlays the feed's transparent layers on the base map.
type Compositor struct {
	source  LayerSource
	base    image.Image
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCompositor loads the base map once when enabled. A base map that cannot
// be fetched or decoded leaves the compositor disabled; callers then send
// text-only alerts.
func NewCompositor(ctx context.Context, source LayerSource, enabled bool, logger *slog.Logger, metrics *observability.Metrics) *Compositor {
	c := &Compositor{source: source, logger: logger, metrics: metrics}
	if enabled {
		base, err := c.loadBase(ctx)
		if err != nil {
			logger.Warn("base map unavailable, rendering disabled", "error", err)
		} else {
			c.base = base
		}
	}
	if c.Enabled() {
		metrics.RenderingEnabled.Set(1)
	} else {
		metrics.RenderingEnabled.Set(0)
	}
	return c
}

// Enabled reports whether Compose can produce images.
func (c *Compositor) Enabled() bool {
	return c.base != nil
}

// Compose renders the map for instant t. The realtime layer is always drawn;
// includePrediction adds the predicted intensity and wavefront layers.
func (c *Compositor) Compose(ctx context.Context, t time.Time, includePrediction bool) (image.Image, error) {
	if !c.Enabled() {
		c.metrics.Compositions.WithLabelValues("disabled").Inc()
		return nil, ErrRenderingDisabled
	}

	kinds := []domain.LayerKind{domain.LayerRealtime}
	if includePrediction {
		kinds = append(kinds, domain.LayerPredictedIntensity, domain.LayerWavefront)
	}

	layers := make(map[domain.LayerKind]image.Image, len(kinds))
	decoded := make([]image.Image, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, kind := range kinds {
		g.Go(func() error {
			img, err := c.fetch(gctx, kind, t)
			if err != nil {
				return err
			}
			decoded[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.Compositions.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("%w: %w", ErrComposition, err)
	}
	for i, kind := range kinds {
		layers[kind] = decoded[i]
	}

	bounds := c.base.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, c.base, bounds.Min, draw.Src)

	c.overlay(canvas, layers, domain.LayerPredictedIntensity, true)
	c.overlay(canvas, layers, domain.LayerRealtime, false)
	c.overlay(canvas, layers, domain.LayerWavefront, true)

	c.metrics.Compositions.WithLabelValues("success").Inc()
	return canvas, nil
}

// overlay draws the layer of kind onto canvas. With sameSizeOnly, a layer
// whose dimensions differ from the base map is skipped.
func (c *Compositor) overlay(canvas *image.RGBA, layers map[domain.LayerKind]image.Image, kind domain.LayerKind, sameSizeOnly bool) {
	layer, ok := layers[kind]
	if !ok {
		return
	}
	if sameSizeOnly && layer.Bounds().Size() != canvas.Bounds().Size() {
		c.logger.Debug("layer size differs from base map, skipped",
			"layer", kind.String(), "size", layer.Bounds().Size().String(), "base", canvas.Bounds().Size().String())
		return
	}
	draw.Draw(canvas, canvas.Bounds(), layer, layer.Bounds().Min, draw.Over)
}

func (c *Compositor) fetch(ctx context.Context, kind domain.LayerKind, t time.Time) (image.Image, error) {
	body, err := c.source.Layer(ctx, kind, t)
	if err != nil {
		return nil, fmt.Errorf("fetch %s layer: %w", kind, err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s layer: %w", kind, err)
	}
	return img, nil
}

func (c *Compositor) loadBase(ctx context.Context) (image.Image, error) {
	body, err := c.source.BaseMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch base map: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode base map: %w", err)
	}
	return img, nil
}

// EncodePNG serializes a composed image for attachment.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
