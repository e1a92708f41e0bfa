// Package provider picks the external adapter that serves each generation
// capability and tracks adapter health.
package provider

import (
	"context"
	"time"
)

// Capability is a kind of work an adapter can do.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilitySpeech Capability = "speech"
	CapabilityImage  Capability = "image"
)

// Capabilities lists every capability in display order.
var Capabilities = []Capability{CapabilityText, CapabilitySpeech, CapabilityImage}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityText, CapabilitySpeech, CapabilityImage:
		return true
	}
	return false
}

// Tier ranks adapters: paid adapters are preferred over free ones.
type Tier string

const (
	TierPaid Tier = "paid"
	TierFree Tier = "free"
)

func (t Tier) rank() int {
	if t == TierPaid {
		return 0
	}
	return 1
}

// Adapter is an external vendor integration.
type Adapter interface {
	Name() string
	Capability() Capability
	Tier() Tier
	// Configured reports whether credentials or endpoints are present.
	Configured() bool
	// HealthCheck performs a cheap call against the vendor.
	HealthCheck(ctx context.Context) error
}

// ScriptRequest asks a text generator for a narration script.
type ScriptRequest struct {
	Prompt      string
	MaxWords    int
	Style       string
	Language    string
	Temperature float64
}

// TextGenerator writes narration scripts.
type TextGenerator interface {
	Adapter
	GenerateScript(ctx context.Context, req ScriptRequest) (string, error)
}

// SpeechRequest asks for narration audio.
type SpeechRequest struct {
	Text  string
	Voice string
	Speed float64
}

// Audio is synthesized speech.
type Audio struct {
	Data        []byte
	ContentType string
	// Duration is estimated when the vendor does not report it.
	Duration time.Duration
}

// SpeechSynthesizer turns text into audio.
type SpeechSynthesizer interface {
	Adapter
	Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error)
}

// ImageQuery searches stock imagery.
type ImageQuery struct {
	Query       string
	Count       int
	Orientation string
}

// Image is one stock image hit.
type Image struct {
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Author     string `json:"author,omitempty"`
	Source     string `json:"source"`
}

// ImageSearcher finds stock images.
type ImageSearcher interface {
	Adapter
	SearchImages(ctx context.Context, q ImageQuery) ([]Image, error)
}

// Descriptor is the externally visible state of one adapter.
type Descriptor struct {
	Name         string     `json:"name"`
	Capability   Capability `json:"capability"`
	Tier         Tier       `json:"tier"`
	Configured   bool       `json:"configured"`
	Healthy      bool       `json:"healthy"`
	LastChecked  *time.Time `json:"lastChecked,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	BreakerState string     `json:"breakerState"`
}

// Usable reports whether the adapter can be selected.
func (d Descriptor) Usable() bool {
	return d.Configured && d.Healthy
}

// HealthMirror shares health state across processes.
type HealthMirror interface {
	GetHealth(ctx context.Context, name string) (bool, error)
	SetHealth(ctx context.Context, name string, healthy bool) error
}
