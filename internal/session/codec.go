package session

import (
	"encoding/json"
	"fmt"
)

// Drafts are stored encoded so callers never share registry slices with the store.
func encodeDraft(draft Draft) ([]byte, error) {
	data, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}
	return data, nil
}

func decodeDraft(data []byte) (Draft, error) {
	var draft Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return Draft{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	return draft, nil
}
