package tts

import "context"

type mockSynth struct {
	sampleRate int
	maxChunk   int
}

// NewMockSynth emits 100ms of 16-bit mono silence per text chunk.
func NewMockSynth(sampleRate, maxChunk int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if maxChunk <= 0 {
		maxChunk = DefaultChunkSize
	}
	return &mockSynth{sampleRate: sampleRate, maxChunk: maxChunk}
}

func (m *mockSynth) Synthesize(ctx context.Context, job Job) (<-chan Segment, <-chan error) {
	if err := job.Validate(); err != nil {
		return failed(err)
	}
	chunks := Chunk(job.Text, m.maxChunk)
	segments := make(chan Segment, len(chunks))
	errs := make(chan error, 1)
	go func() {
		defer close(segments)
		defer close(errs)
		for i := range chunks {
			seg := Segment{
				ContextID: job.ContextID,
				Chunk:     i,
				Sequence:  i,
				Data:      make([]byte, m.sampleRate/10*2),
				Final:     i == len(chunks)-1,
			}
			if err := emit(ctx, segments, seg); err != nil {
				errs <- err
				return
			}
		}
	}()
	return segments, errs
}
