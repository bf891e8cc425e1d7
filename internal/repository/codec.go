// Package repository persists dialogue sessions and transcripts.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

// ErrNotFound is returned when no session exists for an id.
var ErrNotFound = errors.New("repository: conversation not found")

// ErrConflict is returned when a session was changed by another writer
// since it was loaded.
var ErrConflict = errors.New("repository: conversation was modified concurrently")

// EncodeTranscript serializes turns as a JSON array of {role, content, seq, at}.
func EncodeTranscript(turns []domain.Turn) ([]byte, error) {
	if turns == nil {
		turns = []domain.Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("repository: encode transcript: %w", err)
	}
	return data, nil
}

// DecodeTranscript parses the output of EncodeTranscript. It rejects unknown
// roles and sequence numbers that do not strictly increase.
func DecodeTranscript(data []byte) ([]domain.Turn, error) {
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("repository: decode transcript: %w", err)
	}
	if err := validateTurns(turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func validateTurns(turns []domain.Turn) error {
	for i, t := range turns {
		if _, err := domain.ParseRole(string(t.Role)); err != nil {
			return fmt.Errorf("repository: turn %d: %w", i, err)
		}
		if i > 0 && t.Seq <= turns[i-1].Seq {
			return fmt.Errorf("repository: turn %d: sequence %d is not after %d", i, t.Seq, turns[i-1].Seq)
		}
	}
	return nil
}

func encodeState(st dialogue.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("repository: encode state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (dialogue.State, error) {
	var st dialogue.State
	if err := json.Unmarshal(data, &st); err != nil {
		return dialogue.State{}, fmt.Errorf("repository: decode state: %w", err)
	}
	if err := validateTurns(st.Turns); err != nil {
		return dialogue.State{}, err
	}
	return st, nil
}
