package store

import (
	"time"

	"reviewhub/internal/review"
)

// GetFlag returns the requirement's review flag; a missing file is an
// unset flag.
func (s *Store) GetFlag(reqID string) (review.ReviewFlag, error) {
	var flag review.ReviewFlag
	if _, err := readJSON(s.flagPath(reqID), &flag); err != nil {
		return review.ReviewFlag{}, err
	}
	return flag, nil
}

// SetFlag marks a requirement as flagged for attention.
func (s *Store) SetFlag(reqID, by, reason string, at time.Time) (review.ReviewFlag, error) {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	flag := review.ReviewFlag{
		Flagged:   true,
		FlaggedBy: by,
		FlaggedAt: &at,
		Reason:    reason,
	}
	if err := writeJSONAtomic(s.flagPath(reqID), flag); err != nil {
		return review.ReviewFlag{}, err
	}
	return flag, nil
}

// ClearFlag unsets the requirement's flag, keeping who cleared it and when
// so the clear survives a timestamp-based merge.
func (s *Store) ClearFlag(reqID, by string, at time.Time) (review.ReviewFlag, error) {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	flag := review.ReviewFlag{
		Flagged:   false,
		FlaggedBy: by,
		FlaggedAt: &at,
	}
	if err := writeJSONAtomic(s.flagPath(reqID), flag); err != nil {
		return review.ReviewFlag{}, err
	}
	return flag, nil
}

// UpdateFlag applies fn to the requirement's flag record and writes the
// result back, all under the requirement lock, so a flag set while a merge
// is in flight cannot be overwritten by a stale merged record. Nothing is
// written while the flag is untouched on both sides.
func (s *Store) UpdateFlag(reqID string, fn func(review.ReviewFlag) review.ReviewFlag) error {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	flag, err := s.GetFlag(reqID)
	if err != nil {
		return err
	}
	updated := fn(flag)
	if updated.FlaggedAt == nil && flag.FlaggedAt == nil {
		return nil
	}
	return writeJSONAtomic(s.flagPath(reqID), updated)
}
