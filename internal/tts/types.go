package tts

import (
	"context"
	"strings"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

// Job is a single synthesis request.
type Job struct {
	Text      string
	Voice     feed.VoiceConfig
	ContextID string
}

// Segment is one piece of decoded audio. Segments arrive in the order the server produced them.
type Segment struct {
	ContextID string
	Chunk     int
	Sequence  int
	Data      []byte
	Final     bool
}

// Synthesizer is the contract for producing audio. Both channels close when the job ends and
// the error channel carries at most one error.
type Synthesizer interface {
	Synthesize(ctx context.Context, job Job) (<-chan Segment, <-chan error)
}

// Validate rejects jobs that cannot be sent.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Text) == "" {
		return apperr.New(apperr.Validation, "synthesis text is empty")
	}
	return j.Voice.Validate()
}

// Collect drains a synthesis job into an artifact. Partial audio is discarded on failure.
func Collect(ctx context.Context, synth Synthesizer, job Job) (*Artifact, error) {
	segments, errs := synth.Synthesize(ctx, job)
	art := &Artifact{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case seg, ok := <-segments:
			if !ok {
				if err := <-errs; err != nil {
					return nil, err
				}
				return art, nil
			}
			art.Append(seg.Data)
		}
	}
}

// failed returns closed channels carrying err. Used for errors detected before any I/O.
func failed(err error) (<-chan Segment, <-chan error) {
	segments := make(chan Segment)
	errs := make(chan error, 1)
	errs <- err
	close(segments)
	close(errs)
	return segments, errs
}

func emit(ctx context.Context, out chan<- Segment, seg Segment) error {
	select {
	case out <- seg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
