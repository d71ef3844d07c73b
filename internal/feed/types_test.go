package feed

import (
	"math"
	"testing"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
)

func TestSetAudioOnce(t *testing.T) {
	it := NewItem(Post{ID: "p1"}, "summary", 1)
	if it.HasAudio() {
		t.Fatalf("new item must not have audio")
	}
	if err := it.SetAudio("file://a.wav", 2.5); err != nil {
		t.Fatalf("first SetAudio: %v", err)
	}
	err := it.SetAudio("file://b.wav", 3)
	if !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("expected conflict on second SetAudio, got %v", err)
	}
	if it.AudioRef() != "file://a.wav" || it.EstimatedDuration() != 2.5 {
		t.Fatalf("audio fields changed after rejected update: %q %v", it.AudioRef(), it.EstimatedDuration())
	}
}

func TestSetAudioRejectsEmptyRef(t *testing.T) {
	it := NewItem(Post{ID: "p1"}, "summary", 1)
	if err := it.SetAudio("", 1); !apperr.IsKind(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEstimateDuration(t *testing.T) {
	got := EstimateDuration("one two three four five six seven eight nine ten")
	if math.Abs(got-4.0) > 1e-9 {
		t.Fatalf("EstimateDuration = %v, want 4", got)
	}
	if EstimateDuration("   ") != 0 {
		t.Fatalf("blank text should estimate zero")
	}
}

func TestVoiceConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*VoiceConfig)
		valid bool
	}{
		{"default", func(*VoiceConfig) {}, true},
		{"bounds", func(v *VoiceConfig) { v.Rate, v.Pitch, v.Variation = -10, 10, 10 }, true},
		{"empty voice", func(v *VoiceConfig) { v.VoiceID = " " }, false},
		{"rate high", func(v *VoiceConfig) { v.Rate = 11 }, false},
		{"pitch low", func(v *VoiceConfig) { v.Pitch = -11 }, false},
		{"variation zero", func(v *VoiceConfig) { v.Variation = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultVoice()
			tt.mut(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !apperr.IsKind(err, apperr.Validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
