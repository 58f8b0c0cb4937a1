package engine

import (
	"context"
	"time"
)

// Composition is the metadata of a renderable unit exposed by a bundle.
type Composition struct {
	FPS              int `json:"fps"`
	DurationInFrames int `json:"durationInFrames"`
	Width            int `json:"width"`
	Height           int `json:"height"`
}

// ProgressEvent is a single progress report emitted while a render runs.
// Progress is fractional in [0,1]; frame counts and the pipeline stage are
// optional and zero-valued when the engine does not report them.
type ProgressEvent struct {
	Progress       float64 `json:"progress"`
	RenderedFrames int     `json:"renderedFrames,omitempty"`
	EncodedFrames  int     `json:"encodedFrames,omitempty"`
	Stage          string  `json:"stage,omitempty"`
}

// RenderSpec carries everything the engine needs for one encode.
type RenderSpec struct {
	Composition    Composition
	CompositionID  string
	BundleLocation string
	OutputPath     string
	TemplateID     string
	Codec          string
	CRF            int
	Concurrency    int
	Timeout        time.Duration
	MemoryLimitMB  int
	Port           int
}

// Engine is the external frame-rendering collaborator. All three calls are
// long-running; cancellation is cooperative through ctx. RenderToFile sends
// events on progress in emission order and must not close the channel — the
// caller owns it and closes it after the call returns. A cancelled render
// returns an error satisfying errors.Is(err, context.Canceled).
type Engine interface {
	CompileBundle(ctx context.Context, entryPoint string) (string, error)
	ResolveComposition(ctx context.Context, bundleLocation, compositionID string, inputProps map[string]string, port int) (*Composition, error)
	RenderToFile(ctx context.Context, spec RenderSpec, progress chan<- ProgressEvent) error
}
