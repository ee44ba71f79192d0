package review

import (
	"sort"
	"time"
)

// Merge rules for combining per-branch review trees into one view. Every
// function here is a pure join: associative, commutative, and idempotent, so
// N branch trees can be folded in any order and merging a tree with itself
// is a no-op. Scalar disagreements are settled by timestamp, with fixed
// tie-breaks so the result never depends on input order.

// MergeThreads unions thread lists by thread id and merges duplicates.
// The result is sorted by creation time, then id.
func MergeThreads(sources ...[]Thread) []Thread {
	byID := make(map[string]Thread)
	for _, source := range sources {
		for _, thread := range source {
			existing, ok := byID[thread.ID]
			if !ok {
				byID[thread.ID] = normalizeThread(thread)
				continue
			}
			byID[thread.ID] = mergeThread(existing, thread)
		}
	}
	merged := make([]Thread, 0, len(byID))
	for _, thread := range byID {
		merged = append(merged, thread)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func mergeThread(a, b Thread) Thread {
	merged := a
	merged.Comments = mergeComments(a.Comments, b.Comments)

	// The comment union is independent of the resolved flag: the winner
	// contributes only the resolution scalar fields.
	winner := resolutionWinner(a, b)
	merged.Resolved = winner.Resolved
	merged.ResolvedBy = winner.ResolvedBy
	merged.ResolvedAt = winner.ResolvedAt
	merged.UnresolvedAt = winner.UnresolvedAt

	// Identity fields are fixed at creation; keep the earlier capture so
	// replicas that saw the thread at different times still agree.
	if b.CreatedAt.Before(a.CreatedAt) {
		merged.ReqID = b.ReqID
		merged.Position = b.Position
		merged.CreatedBy = b.CreatedBy
		merged.CreatedAt = b.CreatedAt
	}
	return merged
}

func mergeComments(a, b []Comment) []Comment {
	byID := make(map[string]Comment, len(a)+len(b))
	for _, c := range a {
		byID[c.ID] = c
	}
	for _, c := range b {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}
	merged := make([]Comment, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sortComments(merged)
	return merged
}

func sortComments(comments []Comment) {
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
}

// resolutionWinner picks the thread whose resolve/unresolve event is newest.
// On an exact timestamp tie the resolved copy wins, keeping the choice
// independent of argument order.
func resolutionWinner(a, b Thread) Thread {
	at, bt := resolutionTime(a), resolutionTime(b)
	switch {
	case at.After(bt):
		return a
	case bt.After(at):
		return b
	case a.Resolved != b.Resolved:
		if a.Resolved {
			return a
		}
		return b
	case a.ResolvedBy <= b.ResolvedBy:
		return a
	default:
		return b
	}
}

func resolutionTime(t Thread) time.Time {
	var latest time.Time
	if t.ResolvedAt != nil {
		latest = *t.ResolvedAt
	}
	if t.UnresolvedAt != nil && t.UnresolvedAt.After(latest) {
		latest = *t.UnresolvedAt
	}
	return latest
}

func normalizeThread(t Thread) Thread {
	t.Comments = mergeComments(t.Comments, nil)
	return t
}

// MergeRequests unions status-request lists by request id. Approvals are
// keyed per user with the latest vote winning; terminal states are sticky.
func MergeRequests(sources ...[]StatusRequest) []StatusRequest {
	byID := make(map[string]StatusRequest)
	for _, source := range sources {
		for _, request := range source {
			existing, ok := byID[request.ID]
			if !ok {
				byID[request.ID] = request
				continue
			}
			byID[request.ID] = mergeRequest(existing, request)
		}
	}
	merged := make([]StatusRequest, 0, len(byID))
	for _, request := range byID {
		merged = append(merged, request)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].RequestedAt.Equal(merged[j].RequestedAt) {
			return merged[i].RequestedAt.Before(merged[j].RequestedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func mergeRequest(a, b StatusRequest) StatusRequest {
	merged := a
	if b.RequestedAt.Before(a.RequestedAt) {
		merged.ReqID = b.ReqID
		merged.FromStatus = b.FromStatus
		merged.ToStatus = b.ToStatus
		merged.RequestedBy = b.RequestedBy
		merged.RequestedAt = b.RequestedAt
	}
	merged.Approvals = mergeApprovals(a.Approvals, b.Approvals)
	merged.State, merged.AppliedAt, merged.RejectedAt = mergeRequestState(a, b)
	return merged
}

func mergeApprovals(a, b map[string]Approval) map[string]Approval {
	merged := make(map[string]Approval, len(a)+len(b))
	for user, approval := range a {
		merged[user] = approval
	}
	for user, approval := range b {
		existing, ok := merged[user]
		if !ok {
			merged[user] = approval
			continue
		}
		merged[user] = laterApproval(existing, approval)
	}
	return merged
}

// laterApproval keeps the newer vote. A REJECT wins an exact-timestamp tie:
// when order cannot be recovered the conservative outcome is the stable one.
func laterApproval(a, b Approval) Approval {
	switch {
	case a.Timestamp.After(b.Timestamp):
		return a
	case b.Timestamp.After(a.Timestamp):
		return b
	case a.Decision == DecisionReject:
		return a
	default:
		return b
	}
}

// mergeRequestState joins the lifecycle fields of two copies of a request.
// Terminal states beat non-terminal ones; between two terminal states the
// later transition wins, APPLIED winning a tie.
func mergeRequestState(a, b StatusRequest) (RequestState, *time.Time, *time.Time) {
	aTerm, bTerm := a.State.Terminal(), b.State.Terminal()
	switch {
	case aTerm && bTerm:
		at, bt := transitionTime(a), transitionTime(b)
		if at.After(bt) || (at.Equal(bt) && a.State == StateApplied) {
			return a.State, a.AppliedAt, a.RejectedAt
		}
		return b.State, b.AppliedAt, b.RejectedAt
	case aTerm:
		return a.State, a.AppliedAt, a.RejectedAt
	case bTerm:
		return b.State, b.AppliedAt, b.RejectedAt
	case a.State == StateApproved || b.State == StateApproved:
		return StateApproved, nil, nil
	default:
		return StatePending, nil, nil
	}
}

// ReconcileState rescores a merged request against the approval rule. Votes
// cast on separate branches can jointly cross the threshold even though every
// input copy was PENDING, so the lifecycle must be recomputed from the merged
// approvals the same way a live vote is scored. Terminal states stay put.
func ReconcileState(r StatusRequest, rule ApprovalRule) StatusRequest {
	if r.State.Terminal() {
		return r
	}
	switch {
	case r.Rejected():
		r.State = StateRejected
		if r.RejectedAt == nil {
			at := latestRejectTime(r)
			r.RejectedAt = &at
		}
	case rule.Satisfied(r):
		r.State = StateApproved
	default:
		r.State = StatePending
	}
	return r
}

func latestRejectTime(r StatusRequest) time.Time {
	var latest time.Time
	for _, approval := range r.Approvals {
		if approval.Decision == DecisionReject && approval.Timestamp.After(latest) {
			latest = approval.Timestamp
		}
	}
	return latest
}

func transitionTime(r StatusRequest) time.Time {
	if r.AppliedAt != nil {
		return *r.AppliedAt
	}
	if r.RejectedAt != nil {
		return *r.RejectedAt
	}
	return time.Time{}
}

// MergeFlags joins per-requirement flags: the latest FlaggedAt wins, a set
// flag winning an exact-timestamp tie.
func MergeFlags(sources ...ReviewFlag) ReviewFlag {
	var merged ReviewFlag
	for _, flag := range sources {
		merged = laterFlag(merged, flag)
	}
	return merged
}

func laterFlag(a, b ReviewFlag) ReviewFlag {
	at, bt := flagTime(a), flagTime(b)
	switch {
	case at.After(bt):
		return a
	case bt.After(at):
		return b
	case a.Flagged != b.Flagged:
		if a.Flagged {
			return a
		}
		return b
	case a.FlaggedBy <= b.FlaggedBy:
		return a
	default:
		return b
	}
}

func flagTime(f ReviewFlag) time.Time {
	if f.FlaggedAt == nil {
		return time.Time{}
	}
	return *f.FlaggedAt
}
