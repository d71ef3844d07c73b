package feed

import (
	"strings"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
)

// VoiceConfig selects the narrator and prosody for a synthesis job.
type VoiceConfig struct {
	VoiceID   string `json:"voiceId" yaml:"voice_id"`
	Style     string `json:"style" yaml:"style"`
	Rate      int    `json:"rate" yaml:"rate"`
	Pitch     int    `json:"pitch" yaml:"pitch"`
	Variation int    `json:"variation" yaml:"variation"`
}

// DefaultVoice returns the narrator used until a caller replaces it.
func DefaultVoice() VoiceConfig {
	return VoiceConfig{
		VoiceID:   "en-US-amara",
		Style:     "Conversational",
		Rate:      0,
		Pitch:     0,
		Variation: 1,
	}
}

// Validate checks identifier presence and parameter ranges.
func (v VoiceConfig) Validate() error {
	if strings.TrimSpace(v.VoiceID) == "" {
		return apperr.New(apperr.Validation, "voice id must not be empty")
	}
	if v.Rate < -10 || v.Rate > 10 {
		return apperr.Newf(apperr.Validation, "rate %d must be between -10 and 10", v.Rate)
	}
	if v.Pitch < -10 || v.Pitch > 10 {
		return apperr.Newf(apperr.Validation, "pitch %d must be between -10 and 10", v.Pitch)
	}
	if v.Variation < 1 || v.Variation > 10 {
		return apperr.Newf(apperr.Validation, "variation %d must be between 1 and 10", v.Variation)
	}
	return nil
}
