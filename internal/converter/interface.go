package converter

import (
	"context"
	"fmt"
)

// Params holds the per-run parameters handed to the transcoding engine.
type Params struct {
	IgnoreErrors bool     // keep going over corrupt input packets
	StreamCopy   bool     // remux streams instead of re-encoding
	Tag          string   // provenance tag embedded in the output metadata
	ExtraArgs    []string // engine-specific arguments appended before the output
}

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent int)

// Transcoder converts src into dst. It must honour ctx cancellation and may
// report progress through fn (which can be nil).
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string, p Params, fn ProgressFunc) error
}

// Stream is one media stream as reported by the inspection engine.
type Stream struct {
	Category string // "audio", "video", "subtitle", ...
	Codec    string
}

// Prober lists the streams of a media file.
type Prober interface {
	Probe(ctx context.Context, path string) ([]Stream, error)
}

// ProbeError means the inspection engine could not read the file.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }
