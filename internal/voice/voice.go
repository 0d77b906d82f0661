// Package voice defines the speech ports. Concrete STT/TTS backends plug in
// behind these interfaces; the runtime only ever sees transcripts and audio
// file paths.
package voice

import "context"

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, format string) (string, error)
}

// SynthesizeOptions configures one TTS request.
type SynthesizeOptions struct {
	Voice string
	Speed float64
}

// Synthesizer converts text to an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (string, error)
}
