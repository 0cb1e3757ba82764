// Package qrcode turns share URLs into scannable PNG data URLs. Rendering is
// a pure function of the URL, so results are cached.
package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	qr "github.com/skip2/go-qrcode"
)

const (
	// Size is the PNG edge length in pixels.
	Size = 300

	dataURLPrefix = "data:image/png;base64,"
)

// Generator renders QR codes with an expirable LRU in front.
type Generator struct {
	cache *expirable.LRU[string, string]
}

// NewGenerator builds a Generator caching up to size entries for ttl. Entries
// never outlive the share they point at when ttl is the file lifetime.
func NewGenerator(size int, ttl time.Duration) *Generator {
	if size <= 0 {
		size = 1
	}
	return &Generator{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

// DataURL returns "data:image/png;base64,..." encoding content.
func (g *Generator) DataURL(content string) (string, error) {
	if content == "" {
		return "", errors.New("qrcode: empty content")
	}
	if v, ok := g.cache.Get(content); ok {
		return v, nil
	}
	png, err := qr.Encode(content, qr.Medium, Size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	v := dataURLPrefix + base64.StdEncoding.EncodeToString(png)
	g.cache.Add(content, v)
	return v, nil
}

// Len returns the number of cached entries.
func (g *Generator) Len() int {
	return g.cache.Len()
}
