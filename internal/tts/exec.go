package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

type execSynth struct {
	cmd         []string
	sampleRate  int
	maxChunk    int
	headerBytes int
}

type execRequest struct {
	Text        string           `json:"text"`
	End         bool             `json:"end"`
	VoiceConfig feed.VoiceConfig `json:"voice_config"`
	ContextID   string           `json:"context_id,omitempty"`
	SampleRate  int              `json:"sample_rate"`
}

type execResponse struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
}

// NewExecSynth runs a local command per job. The command receives one JSON request line per
// text chunk on stdin and answers each with JSON lines carrying base64 audio, the last of them
// marked final. The next chunk is written only after that final line. headerBytes are stripped
// from the first payload when it is longer than the header.
func NewExecSynth(command string, sampleRate, maxChunk, headerBytes int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if maxChunk <= 0 {
		maxChunk = DefaultChunkSize
	}
	if headerBytes < 0 {
		headerBytes = 0
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, maxChunk: maxChunk, headerBytes: headerBytes}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, job Job) (<-chan Segment, <-chan error) {
	if err := job.Validate(); err != nil {
		return failed(err)
	}
	segments := make(chan Segment)
	errs := make(chan error, 1)
	go func() {
		defer close(segments)
		defer close(errs)
		if err := e.run(ctx, job, segments); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			errs <- err
		}
	}()
	return segments, errs
}

type execTurn struct {
	job      Job
	out      chan<- Segment
	scanner  *bufio.Scanner
	header   int
	sequence int
}

func (e *execSynth) run(ctx context.Context, job Job, out chan<- Segment) error {
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return apperr.Wrap(err, apperr.Transport, "start tts command")
	}
	waited := false
	defer func() {
		if waited {
			return
		}
		// the child may still be writing; it must not outlive the job
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	turn := &execTurn{job: job, out: out, scanner: scanner, header: e.headerBytes}
	enc := json.NewEncoder(stdin)
	chunks := Chunk(job.Text, e.maxChunk)
	for i, chunk := range chunks {
		req := execRequest{
			Text:        chunk,
			End:         i == len(chunks)-1,
			VoiceConfig: job.Voice,
			ContextID:   job.ContextID,
			SampleRate:  e.sampleRate,
		}
		if err := enc.Encode(req); err != nil {
			return apperr.Wrap(err, apperr.Transport, "write tts request")
		}
		if err := turn.readUntilFinal(ctx, i); err != nil {
			return err
		}
	}
	_ = stdin.Close()

	waited = true
	if err := cmd.Wait(); err != nil {
		return apperr.Wrap(err, apperr.Transport, "tts command failed")
	}
	return nil
}

func (t *execTurn) readUntilFinal(ctx context.Context, chunk int) error {
	first := true
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return apperr.Wrap(err, apperr.Transport, "decode tts response")
		}
		if resp.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return apperr.Wrap(err, apperr.Transport, "decode tts audio")
			}
			if chunk == 0 && first && len(audio) > t.header {
				audio = audio[t.header:]
			}
			first = false
			if err := emit(ctx, t.out, Segment{
				ContextID: t.job.ContextID,
				Chunk:     chunk,
				Sequence:  t.sequence,
				Data:      audio,
				Final:     resp.Final,
			}); err != nil {
				return err
			}
			t.sequence++
		}
		if resp.Final {
			return nil
		}
	}
	if err := t.scanner.Err(); err != nil {
		return apperr.Wrap(err, apperr.Transport, "read tts output")
	}
	return apperr.Newf(apperr.Transport, "tts command closed output before chunk %d was final", chunk)
}
