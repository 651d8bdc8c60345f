package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvertedThresholds is returned when the acknowledgment threshold
// exceeds the relevance threshold.
var ErrInvertedThresholds = errors.New("acknowledgment_threshold must not exceed relevance_threshold")

// EmergentModeSettings tunes the emergent round loop of a conversation.
type EmergentModeSettings struct {
	RelevanceThreshold       float64 `json:"relevance_threshold"`
	MaxRoundsPerMessage      int     `json:"max_rounds_per_message"`
	MaxResponsesPerRound     int     `json:"max_responses_per_round"`
	AllowMultipleResponses   bool    `json:"allow_multiple_responses"`
	ShowBriefAcknowledgments bool    `json:"show_brief_acknowledgments"`
	AcknowledgmentThreshold  float64 `json:"acknowledgment_threshold"`
	RequireUniqueInsight     bool    `json:"require_unique_insight"`
	ResponseDelayMs          int     `json:"response_delay_ms"`
	ShowRelevanceScores      bool    `json:"show_relevance_scores"`
}

// DefaultEmergentSettings returns the built-in defaults. Each call returns a
// fresh value.
func DefaultEmergentSettings() EmergentModeSettings {
	return EmergentModeSettings{
		RelevanceThreshold:       70,
		MaxRoundsPerMessage:      2,
		MaxResponsesPerRound:     3,
		AllowMultipleResponses:   false,
		ShowBriefAcknowledgments: true,
		AcknowledgmentThreshold:  50,
		RequireUniqueInsight:     true,
		ResponseDelayMs:          500,
		ShowRelevanceScores:      false,
	}
}

// Validate rejects out-of-range values and inverted thresholds.
func (s EmergentModeSettings) Validate() error {
	if s.RelevanceThreshold < 0 || s.RelevanceThreshold > 100 {
		return fmt.Errorf("relevance_threshold must be between 0 and 100, got %v", s.RelevanceThreshold)
	}
	if s.AcknowledgmentThreshold < 0 || s.AcknowledgmentThreshold > 100 {
		return fmt.Errorf("acknowledgment_threshold must be between 0 and 100, got %v", s.AcknowledgmentThreshold)
	}
	if s.AcknowledgmentThreshold > s.RelevanceThreshold {
		return ErrInvertedThresholds
	}
	if s.MaxRoundsPerMessage < 0 {
		return errors.New("max_rounds_per_message must not be negative")
	}
	if s.MaxResponsesPerRound < 1 {
		return errors.New("max_responses_per_round must be at least 1")
	}
	if s.ResponseDelayMs < 0 {
		return errors.New("response_delay_ms must not be negative")
	}
	return nil
}

// Normalize clamps values into range. It returns the normalized settings and
// whether anything changed; an inverted acknowledgment threshold is lowered to
// the relevance threshold.
func (s EmergentModeSettings) Normalize() (EmergentModeSettings, bool) {
	out := s
	out.RelevanceThreshold = clamp(out.RelevanceThreshold, 0, 100)
	out.AcknowledgmentThreshold = clamp(out.AcknowledgmentThreshold, 0, 100)
	if out.AcknowledgmentThreshold > out.RelevanceThreshold {
		out.AcknowledgmentThreshold = out.RelevanceThreshold
	}
	if out.MaxRoundsPerMessage < 0 {
		out.MaxRoundsPerMessage = 0
	}
	if out.MaxResponsesPerRound < 1 {
		out.MaxResponsesPerRound = 1
	}
	if out.ResponseDelayMs < 0 {
		out.ResponseDelayMs = 0
	}
	return out, out != s
}

// ParseEmergentSettings decodes persisted settings JSON. Empty or malformed
// input yields defaults together with the decode error, so callers can log
// and continue. Fields missing from the JSON keep their default values.
func ParseEmergentSettings(raw []byte, defaults EmergentModeSettings) (EmergentModeSettings, error) {
	if len(raw) == 0 {
		return defaults, nil
	}
	out := defaults
	if err := json.Unmarshal(raw, &out); err != nil {
		return defaults, fmt.Errorf("failed to parse emergent settings: %w", err)
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
