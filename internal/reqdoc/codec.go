package reqdoc

import (
	"encoding/json"
	"fmt"
)

func decodeRequirement(data []byte, name string) (Requirement, error) {
	var requirement Requirement
	if err := json.Unmarshal(data, &requirement); err != nil {
		return Requirement{}, fmt.Errorf("decode requirement %s: %w", name, err)
	}
	return requirement, nil
}

func encodeRequirement(requirement Requirement) ([]byte, error) {
	payload, err := json.MarshalIndent(requirement, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode requirement %s: %w", requirement.ID, err)
	}
	return append(payload, '\n'), nil
}
