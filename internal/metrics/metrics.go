// Package metrics caches computed display metrics per message.
package metrics

import (
	"math"
	"sync"

	"github.com/mfigueira/convo/internal/config"
	"github.com/mfigueira/convo/internal/store"
)

// TextMeasurer computes the bounding box of a text run constrained to a
// maximum width. The real implementation lives in the rendering layer; the
// engine only needs the resulting box.
type TextMeasurer interface {
	Measure(text string, maxWidth float64) (width, height float64)
}

// MonospaceMeasurer estimates text bounds for a fixed-pitch face. It is the
// default measurer when the rendering layer does not supply one.
type MonospaceMeasurer struct {
	CharWidth  float64
	LineHeight float64
}

func (m MonospaceMeasurer) Measure(text string, maxWidth float64) (float64, float64) {
	charWidth := m.CharWidth
	if charWidth <= 0 {
		charWidth = 8
	}
	lineHeight := m.LineHeight
	if lineHeight <= 0 {
		lineHeight = 18
	}
	runes := len([]rune(text))
	if runes == 0 {
		runes = 1
	}
	perLine := int(maxWidth / charWidth)
	if perLine < 1 {
		perLine = 1
	}
	lines := (runes + perLine - 1) / perLine
	width := float64(runes) * charWidth
	if width > maxWidth {
		width = maxWidth
	}
	return width, float64(lines) * lineHeight
}

// Calculator memoizes per-message display metrics keyed by server identity.
// Messages without a server id are never cached: an uncached entry cannot be
// invalidated later, so it is recomputed on every call instead.
type Calculator struct {
	mu       sync.Mutex
	policy   config.Metrics
	measurer TextMeasurer

	heights       map[string]float64
	widths        map[string]float64
	audioProgress map[string]float64

	recomputes int
}

// New creates a calculator with the given sizing policy. measurer may be nil,
// in which case a monospace estimate is used.
func New(policy config.Metrics, measurer TextMeasurer) *Calculator {
	if measurer == nil {
		measurer = MonospaceMeasurer{}
	}
	return &Calculator{
		policy:        policy,
		measurer:      measurer,
		heights:       make(map[string]float64),
		widths:        make(map[string]float64),
		audioProgress: make(map[string]float64),
	}
}

// HeightOf returns the display height for a message, cached by identity.
func (c *Calculator) HeightOf(m *store.Message) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.ServerID
	if key != "" {
		if h, ok := c.heights[key]; ok {
			return h
		}
	}

	c.recomputes++
	height := c.computeHeight(m, key)

	if key != "" {
		c.heights[key] = height
	}
	return height
}

func (c *Calculator) computeHeight(m *store.Message, key string) float64 {
	p := c.policy

	switch m.MediaKind {
	case store.KindText:
		w, h := c.measurer.Measure(m.Body, p.TextMaxWidth)
		if key != "" {
			c.widths[key] = math.Ceil(w)
		}
		height := math.Ceil(h) + p.TextPadding*2
		if height < p.AvatarSize {
			height = p.AvatarSize
		}
		return height

	case store.KindImage, store.KindVideo:
		return c.mediaHeight(m.Meta)

	case store.KindAudio:
		return p.AudioHeight

	case store.KindLocation:
		return p.LocationHeight

	case store.KindSectionDate:
		return p.SectionDateHeight

	default:
		return p.SectionDateHeight
	}
}

// mediaHeight derives an image or video cell height from the stored aspect
// ratio, clamped to the configured minimums. Absent or degenerate metadata
// falls back to the default aspect ratio.
func (c *Calculator) mediaHeight(meta *store.MediaMeta) float64 {
	p := c.policy

	if meta == nil || meta.Width <= 0 || meta.Height <= 0 {
		return math.Ceil(p.ImagePreferredWidth / p.DefaultAspectRatio)
	}

	aspectRatio := meta.Width / meta.Height
	if aspectRatio >= 1 {
		h := math.Ceil(p.ImagePreferredWidth / aspectRatio)
		if h < p.MediaMinHeight {
			h = p.MediaMinHeight
		}
		return h
	}
	h := math.Ceil(p.MediaMinWidth / aspectRatio)
	if h < p.ImagePreferredHeight {
		h = p.ImagePreferredHeight
	}
	return h
}

// ContentWidthOf returns the rendered content width for a message.
// Text widths are filled as a byproduct of HeightOf; other kinds use the
// preferred media width.
func (c *Calculator) ContentWidthOf(m *store.Message) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.ServerID
	if key != "" {
		if w, ok := c.widths[key]; ok {
			return w
		}
	}

	if m.MediaKind == store.KindText {
		w, _ := c.measurer.Measure(m.Body, c.policy.TextMaxWidth)
		w = math.Ceil(w)
		if key != "" {
			c.widths[key] = w
		}
		return w
	}
	return c.policy.ImagePreferredWidth
}

// SetAudioProgress records playback progress for an audio message. Messages
// without a server id are not tracked.
func (c *Calculator) SetAudioProgress(serverID string, seconds float64) {
	if serverID == "" {
		return
	}
	c.mu.Lock()
	c.audioProgress[serverID] = seconds
	c.mu.Unlock()
}

// AudioProgress returns recorded playback progress for an audio message.
func (c *Calculator) AudioProgress(serverID string) (float64, bool) {
	if serverID == "" {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.audioProgress[serverID]
	return p, ok
}

// Invalidate drops every cached metric for a message identity. Called on
// message deletion; nothing else mutates content in place.
func (c *Calculator) Invalidate(serverID string) {
	if serverID == "" {
		return
	}
	c.mu.Lock()
	delete(c.heights, serverID)
	delete(c.widths, serverID)
	delete(c.audioProgress, serverID)
	c.mu.Unlock()
}

// Recomputes returns how many times a metric was computed rather than
// served from cache.
func (c *Calculator) Recomputes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recomputes
}
