package store

import (
	"fmt"
	"time"

	"reviewhub/internal/review"
)

// ListRequests returns all status-change requests for a requirement.
func (s *Store) ListRequests(reqID string) ([]review.StatusRequest, error) {
	var requests []review.StatusRequest
	if _, err := readJSON(s.requestsPath(reqID), &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// GetRequest looks up a single status request by id.
func (s *Store) GetRequest(reqID, requestID string) (review.StatusRequest, error) {
	requests, err := s.ListRequests(reqID)
	if err != nil {
		return review.StatusRequest{}, err
	}
	for _, request := range requests {
		if request.ID == requestID {
			return request, nil
		}
	}
	return review.StatusRequest{}, fmt.Errorf("status request %s: %w", requestID, ErrNotFound)
}

// CreateRequest records a new status-change request in PENDING state.
func (s *Store) CreateRequest(request review.StatusRequest) (review.StatusRequest, error) {
	if err := request.Validate(); err != nil {
		return review.StatusRequest{}, fmt.Errorf("validate status request: %w", err)
	}
	lock := s.reqLock(request.ReqID)
	lock.Lock()
	defer lock.Unlock()

	requests, err := s.ListRequests(request.ReqID)
	if err != nil {
		return review.StatusRequest{}, err
	}
	for _, existing := range requests {
		if existing.ID == request.ID {
			return review.StatusRequest{}, fmt.Errorf("status request %s already exists: %w", request.ID, ErrConflict)
		}
	}
	requests = append(requests, request)
	if err := writeJSONAtomic(s.requestsPath(request.ReqID), requests); err != nil {
		return review.StatusRequest{}, err
	}
	return request, nil
}

// AddApproval records a user's vote on a request. A second vote from the
// same user overwrites the first; the approvals map is keyed by user.
// The request state is recomputed against rule unless already terminal.
func (s *Store) AddApproval(reqID, requestID string, approval review.Approval, rule review.ApprovalRule) (review.StatusRequest, error) {
	return s.mutateRequest(reqID, requestID, func(request *review.StatusRequest) error {
		if request.State.Terminal() {
			return fmt.Errorf("status request %s is %s and accepts no further votes: %w", requestID, request.State, ErrConflict)
		}
		if request.Approvals == nil {
			request.Approvals = make(map[string]review.Approval)
		}
		request.Approvals[approval.User] = approval
		switch {
		case request.Rejected():
			request.State = review.StateRejected
			at := approval.Timestamp
			request.RejectedAt = &at
		case rule.Satisfied(*request):
			request.State = review.StateApproved
		default:
			request.State = review.StatePending
		}
		return nil
	})
}

// MarkApplied transitions an APPROVED request to its terminal APPLIED
// state. The transition happens exactly once.
func (s *Store) MarkApplied(reqID, requestID string, at time.Time) (review.StatusRequest, error) {
	return s.mutateRequest(reqID, requestID, func(request *review.StatusRequest) error {
		if request.State == review.StateApplied {
			return fmt.Errorf("status request %s already applied: %w", requestID, ErrConflict)
		}
		if request.State != review.StateApproved {
			return fmt.Errorf("status request %s is %s, not APPROVED: %w", requestID, request.State, ErrConflict)
		}
		request.State = review.StateApplied
		request.AppliedAt = &at
		return nil
	})
}

// UpdateRequests applies fn to the requirement's request list and writes the
// result back, all under the requirement lock, so a vote recorded while a
// merge is in flight cannot be overwritten by the stale merged list. Nothing
// is written when the list is empty before and after.
func (s *Store) UpdateRequests(reqID string, fn func([]review.StatusRequest) []review.StatusRequest) error {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	requests, err := s.ListRequests(reqID)
	if err != nil {
		return err
	}
	updated := fn(requests)
	if len(updated) == 0 && len(requests) == 0 {
		return nil
	}
	return writeJSONAtomic(s.requestsPath(reqID), updated)
}

func (s *Store) mutateRequest(reqID, requestID string, mutate func(*review.StatusRequest) error) (review.StatusRequest, error) {
	lock := s.reqLock(reqID)
	lock.Lock()
	defer lock.Unlock()

	requests, err := s.ListRequests(reqID)
	if err != nil {
		return review.StatusRequest{}, err
	}
	for i := range requests {
		if requests[i].ID != requestID {
			continue
		}
		if err := mutate(&requests[i]); err != nil {
			return review.StatusRequest{}, err
		}
		if err := writeJSONAtomic(s.requestsPath(reqID), requests); err != nil {
			return review.StatusRequest{}, err
		}
		return requests[i], nil
	}
	return review.StatusRequest{}, fmt.Errorf("status request %s: %w", requestID, ErrNotFound)
}
