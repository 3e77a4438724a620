// Package diffusion defines the Provider interface for image diffusion
// backends (txt2img, img2img, inpaint), matching spec §4.6's Diffusion
// capability.
package diffusion

import "context"

// Mode selects the diffusion operation.
type Mode int

const (
	ModeTxt2Img Mode = iota
	ModeImg2Img
	ModeInpaint
)

// Options carries every diffusion parameter spec §4.6 names.
type Options struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Guidance       float64
	Seed           int64
	Scheduler      string // opaque name; no scheduler math is implemented, see modelregistry.Descriptor.ExecutionProvider for the analogous pattern
	Mode           Mode

	// InitImage is required for ModeImg2Img and ModeInpaint.
	InitImage []byte
	// Mask is required for ModeInpaint; white pixels mark the region to regenerate.
	Mask []byte
}

// Progress reports the current denoising step.
type Progress struct {
	Step      int
	TotalSteps int
}

// Image is the raw RGB(A) output of a diffusion call.
type Image struct {
	Pixels []byte
	Width  int
	Height int
}

// Provider is the abstraction over any diffusion backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Generate runs a diffusion request. progressCb may be nil; when non-nil
	// it is invoked once per denoising step.
	Generate(ctx context.Context, opts Options, progressCb func(Progress)) (Image, error)
}
