package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatrelay/pkg/gateway"
	"chatrelay/pkg/store"
)

// PebbleTranscripts persists agent transcripts in the message store so
// conversational memory survives restarts.
type PebbleTranscripts struct{}

func (PebbleTranscripts) Load(token string) ([]gateway.Turn, error) {
	if token == "" {
		return nil, nil
	}
	data, err := store.GetTranscript(token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var turns []gateway.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("invalid transcript JSON: %w", err)
	}
	return turns, nil
}

func (PebbleTranscripts) Save(token string, turns []gateway.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return store.SaveTranscript(token, data)
}
