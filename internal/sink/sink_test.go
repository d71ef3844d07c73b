package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/loqalabs/loqa-feedcast/internal/bus"
	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSanitizeKey(t *testing.T) {
	tests := map[string]string{
		"audio_p1_17.wav":       "audio_p1_17.wav",
		"audio_../../etc_1.wav": "audio_.._.._etc_1.wav",
		"audio_a b/c_1.wav":     "audio_a_b_c_1.wav",
		"..":                    "_",
		"daily_digest_1700.wav": "daily_digest_1700.wav",
	}
	for in, want := range tests {
		if got := SanitizeKey(in); got != want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileSinkWriteOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "temp_audio")
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ref, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != filepath.Join(dir, "audio_p1_1.wav") {
		t.Fatalf("unexpected ref %q", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("artifact not written: %v", err)
	}
	if _, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("again")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	data, _ = os.ReadFile(ref)
	if string(data) != "RIFF" {
		t.Fatalf("existing artifact was overwritten")
	}
}

func TestFileSinkKeepsKeysInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ref, err := s.Put(context.Background(), "../escape.wav", []byte("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(ref, dir) {
		t.Fatalf("ref %q escaped %q", ref, dir)
	}
}

func TestObjectStoreSink(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	s, err := NewObjectStoreSink(client.JetStream(), "feedcast-audio")
	if err != nil {
		t.Fatalf("NewObjectStoreSink: %v", err)
	}
	ref, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("wav-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != "objectstore://feedcast-audio/audio_p1_1.wav" {
		t.Fatalf("unexpected ref %q", ref)
	}
	got, err := s.Get("audio_p1_1.wav")
	if err != nil || string(got) != "wav-bytes" {
		t.Fatalf("get: %q %v", got, err)
	}
	if _, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("other")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	again, err := NewObjectStoreSink(client.JetStream(), "feedcast-audio")
	if err != nil {
		t.Fatalf("rebinding existing bucket: %v", err)
	}
	if _, err := again.Get("audio_p1_1.wav"); err != nil {
		t.Fatalf("existing object not visible: %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, in)
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkWriteOnce(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	s := newS3Sink(fake, "feedcast", "/audio/")

	ref, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("wav"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != "s3://feedcast/audio/audio_p1_1.wav" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if got := string(fake.objects["audio/audio_p1_1.wav"]); got != "wav" {
		t.Fatalf("stored %q", got)
	}
	if ct := aws.ToString(fake.inputs[0].ContentType); ct != "audio/wav" {
		t.Fatalf("content type %q", ct)
	}

	if _, err := s.Put(context.Background(), "audio_p1_1.wav", []byte("other")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if got := string(fake.objects["audio/audio_p1_1.wav"]); got != "wav" {
		t.Fatalf("existing object overwritten with %q", got)
	}
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), config.S3Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
