package store

import (
	"reviewhub/internal/review"
)

// Settings is the global config record. Missing fields decode to their zero
// values, which are safe defaults; schema versioning is implicit in field
// presence.
type Settings struct {
	ActivePackageID string              `json:"activePackageId,omitempty"`
	AutoSync        bool                `json:"autoSync"`
	ApprovalRule    review.ApprovalRule `json:"approvalRule"`
}

// DefaultSettings gives the config used before any has been saved.
func DefaultSettings() Settings {
	return Settings{
		AutoSync:     true,
		ApprovalRule: review.ApprovalRule{MinApprovals: 1},
	}
}

// LoadSettings reads the global config record, falling back to defaults
// when none exists yet.
func (s *Store) LoadSettings() (Settings, error) {
	settings := DefaultSettings()
	found, err := readJSON(s.configPath(), &settings)
	if err != nil {
		return Settings{}, err
	}
	if !found {
		return DefaultSettings(), nil
	}
	if settings.ApprovalRule.MinApprovals < 1 {
		settings.ApprovalRule.MinApprovals = 1
	}
	return settings, nil
}

// SaveSettings persists the global config record.
func (s *Store) SaveSettings(settings Settings) error {
	lock := s.globalLock()
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(s.configPath(), settings)
}
