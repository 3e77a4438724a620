// Package vlm defines the Provider interface for Vision-Language Model
// backends: models that accept an image plus a text prompt and return a
// text response (captioning, visual question answering, document OCR).
//
// This capability has no counterpart in the teacher's voice-pipeline
// domain; its Provider has a single method rather than anything the game
// engine needed.
package vlm

import "context"

// ImageSource is a tagged union: exactly one field should be set, mirroring
// spec §4.6's `image` parameter (`{file_path, raw_rgb_pixels + w + h,
// base64}`).
type ImageSource struct {
	FilePath string

	RawRGBPixels []byte
	Width        int
	Height       int

	Base64 string
}

// Request carries a single VLM call's inputs.
type Request struct {
	Image       ImageSource
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Result is the text response to a VLM request.
type Result struct {
	Content string
}

// Provider is the abstraction over any VLM backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Process runs a single image+prompt request and returns the model's
	// text response.
	Process(ctx context.Context, req Request) (Result, error)
}
