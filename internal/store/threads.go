package store

import (
	"fmt"
	"time"

	"reviewhub/internal/review"
)

// ListThreads returns all threads recorded for a requirement. No thread
// file yet means no threads.
func (s *Store) ListThreads(reqID string) ([]review.Thread, error) {
	var threads []review.Thread
	if _, err := readJSON(s.threadsPath(reqID), &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// CreateThread appends a new thread to the requirement's thread file.
func (s *Store) CreateThread(thread review.Thread) (review.Thread, error) {
	if err := thread.Validate(); err != nil {
		return review.Thread{}, fmt.Errorf("validate thread: %w", err)
	}
	lock := s.reqLock(thread.ReqID)
	lock.Lock()
	defer lock.Unlock()

	threads, err := s.ListThreads(thread.ReqID)
	if err != nil {
		return review.Thread{}, err
	}
	for _, existing := range threads {
		if existing.ID == thread.ID {
			return review.Thread{}, fmt.Errorf("thread %s already exists: %w", thread.ID, ErrConflict)
		}
	}
	threads = append(threads, thread)
	if err := writeJSONAtomic(s.threadsPath(thread.ReqID), threads); err != nil {
		return review.Thread{}, err
	}
	return thread, nil
}

// AppendComment adds a comment to an existing thread. Comments are
// append-only; existing entries are never touched.
func (s *Store) AppendComment(reqID, threadID string, comment review.Comment) (review.Thread, error) {
	if err := comment.Validate(); err != nil {
		return review.Thread{}, fmt.Errorf("validate comment: %w", err)
	}
	return s.mutateThread(reqID, threadID, func(thread *review.Thread) error {
		for _, existing := range thread.Comments {
			if existing.ID == comment.ID {
				return fmt.Errorf("comment %s already exists on thread %s: %w", comment.ID, threadID, ErrConflict)
			}
		}
		thread.Comments = append(thread.Comments, comment)
		return nil
	})
}

// ResolveThread marks a thread resolved, recording who and when.
func (s *Store) ResolveThread(reqID, threadID, by string, at time.Time) (review.Thread, error) {
	return s.mutateThread(reqID, threadID, func(thread *review.Thread) error {
		thread.Resolved = true
		thread.ResolvedBy = by
		thread.ResolvedAt = &at
		return nil
	})
}

// UnresolveThread reopens a resolved thread.
func (s *Store) UnresolveThread(reqID, threadID string, at time.Time) (review.Thread, error) {
	return s.mutateThread(reqID, threadID, func(thread *review.Thread) error {
		thread.Resolved = false
		thread.UnresolvedAt = &at
		return nil
	})
}

// UpdateThreads applies fn to the requirement's thread list and writes the
// result back, all under the requirement lock. Folding fetched sibling
// branches in goes through here: reading outside the lock would let a
// comment appended in between be overwritten by the stale merged list.
// Nothing is written when the list is empty before and after.
func (s *Store) UpdateThreads(reqID string, fn func([]review.Thread) []review.Thread) error {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	threads, err := s.ListThreads(reqID)
	if err != nil {
		return err
	}
	updated := fn(threads)
	if len(updated) == 0 && len(threads) == 0 {
		return nil
	}
	return writeJSONAtomic(s.threadsPath(reqID), updated)
}

func (s *Store) mutateThread(reqID, threadID string, mutate func(*review.Thread) error) (review.Thread, error) {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	threads, err := s.ListThreads(reqID)
	if err != nil {
		return review.Thread{}, err
	}
	for i := range threads {
		if threads[i].ID != threadID {
			continue
		}
		if err := mutate(&threads[i]); err != nil {
			return review.Thread{}, err
		}
		if err := writeJSONAtomic(s.threadsPath(reqID), threads); err != nil {
			return review.Thread{}, err
		}
		return threads[i], nil
	}
	return review.Thread{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
}
