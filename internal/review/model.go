// Package review holds the record types shared by the storage, merge, and
// replication layers, plus the pure merge and status-machine logic that
// operates on them.
package review

import (
	"fmt"
	"strings"
	"time"
)

// PositionKind discriminates the CommentPosition tagged union.
type PositionKind string

const (
	PositionLine      PositionKind = "line"
	PositionCharRange PositionKind = "charRange"
	PositionContext   PositionKind = "context"
	PositionKeyword   PositionKind = "keyword"
)

// CommentPosition is the anchor captured at thread-creation time. Kind
// selects which fields are meaningful; every kind carries the anchor text
// and the document hash in effect when it was captured so resolution can
// short-circuit on an unchanged document.
type CommentPosition struct {
	Kind       PositionKind `json:"kind"`
	DocHash    string       `json:"docHash"`
	Anchor     string       `json:"anchor"`
	Line       int          `json:"line,omitempty"`
	StartChar  int          `json:"startChar,omitempty"`
	EndChar    int          `json:"endChar,omitempty"`
	Before     string       `json:"before,omitempty"`
	After      string       `json:"after,omitempty"`
	Keyword    string       `json:"keyword,omitempty"`
	Occurrence int          `json:"occurrence,omitempty"`
}

// Confidence grades how reliably a position was re-located.
type Confidence string

const (
	ConfidenceExact  Confidence = "EXACT"
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceFailed Confidence = "FAILED"
)

// ResolvedPosition is output-only: where a thread anchor lands in the
// current document. Never nil-valued; a failed resolution points at line 1.
type ResolvedPosition struct {
	Line       int        `json:"line"`
	EndLine    int        `json:"endLine,omitempty"`
	Confidence Confidence `json:"confidence"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Thread struct {
	ID           string          `json:"id"`
	ReqID        string          `json:"reqId"`
	Position     CommentPosition `json:"position"`
	Comments     []Comment       `json:"comments"`
	Resolved     bool            `json:"resolved"`
	ResolvedBy   string          `json:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
	UnresolvedAt *time.Time      `json:"unresolvedAt,omitempty"`
	CreatedBy    string          `json:"createdBy"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ReviewFlag marks a requirement as needing attention. A single mutable
// record per requirement, not a log.
type ReviewFlag struct {
	Flagged   bool       `json:"flagged"`
	FlaggedBy string     `json:"flaggedBy,omitempty"`
	FlaggedAt *time.Time `json:"flaggedAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

type Approval struct {
	User      string    `json:"user"`
	Decision  Decision  `json:"decision"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type RequestState string

const (
	StatePending  RequestState = "PENDING"
	StateApproved RequestState = "APPROVED"
	StateRejected RequestState = "REJECTED"
	StateApplied  RequestState = "APPLIED"
)

// StatusRequest proposes a status change on a requirement. Approvals are
// keyed by user: re-voting overwrites, never double-counts.
type StatusRequest struct {
	ID          string              `json:"id"`
	ReqID       string              `json:"reqId"`
	FromStatus  string              `json:"fromStatus"`
	ToStatus    string              `json:"toStatus"`
	RequestedBy string              `json:"requestedBy"`
	RequestedAt time.Time           `json:"requestedAt"`
	Approvals   map[string]Approval `json:"approvals"`
	State       RequestState        `json:"state"`
	AppliedAt   *time.Time          `json:"appliedAt,omitempty"`
	RejectedAt  *time.Time          `json:"rejectedAt,omitempty"`
}

// ReviewPackage names a group of requirements under joint review and scopes
// the replication branch namespace.
type ReviewPackage struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	ReqIDs      map[string]bool `json:"reqIds"`
}

// ApprovalRule decides when a status request counts as approved.
type ApprovalRule struct {
	MinApprovals  int      `json:"minApprovals"`
	RequiredUsers []string `json:"requiredUsers,omitempty"`
}

// Terminal reports whether a request state admits no further transitions.
func (s RequestState) Terminal() bool {
	return s == StateApplied || s == StateRejected
}

// ApprovalCount is the number of distinct users whose latest vote is APPROVE.
func (r StatusRequest) ApprovalCount() int {
	count := 0
	for _, approval := range r.Approvals {
		if approval.Decision == DecisionApprove {
			count++
		}
	}
	return count
}

// Rejected reports whether any user's latest vote is REJECT.
func (r StatusRequest) Rejected() bool {
	for _, approval := range r.Approvals {
		if approval.Decision == DecisionReject {
			return true
		}
	}
	return false
}

// Satisfied reports whether the request's approvals meet the rule.
func (rule ApprovalRule) Satisfied(r StatusRequest) bool {
	if r.ApprovalCount() < rule.MinApprovals {
		return false
	}
	for _, user := range rule.RequiredUsers {
		approval, ok := r.Approvals[user]
		if !ok || approval.Decision != DecisionApprove {
			return false
		}
	}
	return true
}

func (p CommentPosition) Validate() error {
	switch p.Kind {
	case PositionLine:
		if p.Line < 1 {
			return fmt.Errorf("line position requires line >= 1, got %d", p.Line)
		}
	case PositionCharRange:
		if p.StartChar < 0 || p.EndChar < p.StartChar {
			return fmt.Errorf("invalid char range [%d, %d)", p.StartChar, p.EndChar)
		}
	case PositionContext:
		if p.Before == "" && p.After == "" {
			return fmt.Errorf("context position requires a before or after window")
		}
	case PositionKeyword:
		if p.Keyword == "" {
			return fmt.Errorf("keyword position requires a keyword")
		}
		if p.Occurrence < 1 {
			return fmt.Errorf("keyword position requires occurrence >= 1, got %d", p.Occurrence)
		}
	default:
		return fmt.Errorf("unknown position kind %q", p.Kind)
	}
	return nil
}

func (t Thread) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("thread id is required")
	}
	if strings.TrimSpace(t.ReqID) == "" {
		return fmt.Errorf("thread reqId is required")
	}
	if strings.TrimSpace(t.CreatedBy) == "" {
		return fmt.Errorf("thread createdBy is required")
	}
	if len(t.Comments) == 0 {
		return fmt.Errorf("thread requires an opening comment")
	}
	for _, c := range t.Comments {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("comment %s: %w", c.ID, err)
		}
	}
	return t.Position.Validate()
}

func (c Comment) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("comment id is required")
	}
	if strings.TrimSpace(c.Author) == "" {
		return fmt.Errorf("comment author is required")
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("comment body is required")
	}
	return nil
}

func (r StatusRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("request id is required")
	}
	if strings.TrimSpace(r.ReqID) == "" {
		return fmt.Errorf("request reqId is required")
	}
	if strings.TrimSpace(r.ToStatus) == "" {
		return fmt.Errorf("request toStatus is required")
	}
	if strings.TrimSpace(r.RequestedBy) == "" {
		return fmt.Errorf("request requestedBy is required")
	}
	switch r.State {
	case StatePending, StateApproved, StateRejected, StateApplied:
	default:
		return fmt.Errorf("unknown request state %q", r.State)
	}
	return nil
}

func (p ReviewPackage) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("package id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("package name is required")
	}
	return nil
}
