package review

import (
	"testing"
	"time"
)

func TestApprovalCountOneVotePerUser(t *testing.T) {
	request := StatusRequest{
		Approvals: map[string]Approval{
			"bob": {User: "bob", Decision: DecisionApprove, Timestamp: time.Now()},
		},
	}
	if got := request.ApprovalCount(); got != 1 {
		t.Fatalf("ApprovalCount() = %d, want 1", got)
	}

	// A second vote from the same user overwrites, never double-counts.
	request.Approvals["bob"] = Approval{User: "bob", Decision: DecisionApprove, Timestamp: time.Now()}
	if got := request.ApprovalCount(); got != 1 {
		t.Fatalf("ApprovalCount() after re-vote = %d, want 1", got)
	}

	request.Approvals["bob"] = Approval{User: "bob", Decision: DecisionReject, Timestamp: time.Now()}
	if got := request.ApprovalCount(); got != 0 {
		t.Fatalf("ApprovalCount() after flip to reject = %d, want 0", got)
	}
	if !request.Rejected() {
		t.Fatal("Rejected() should report bob's reject")
	}
}

func TestApprovalRuleSatisfied(t *testing.T) {
	rule := ApprovalRule{MinApprovals: 2, RequiredUsers: []string{"lead"}}
	request := StatusRequest{Approvals: map[string]Approval{
		"bob":   {User: "bob", Decision: DecisionApprove},
		"carol": {User: "carol", Decision: DecisionApprove},
	}}
	if rule.Satisfied(request) {
		t.Fatal("rule should not be satisfied without the required user")
	}
	request.Approvals["lead"] = Approval{User: "lead", Decision: DecisionApprove}
	if !rule.Satisfied(request) {
		t.Fatal("rule should be satisfied with two approvals including the lead")
	}
}

func TestRequestStateTerminal(t *testing.T) {
	for state, want := range map[RequestState]bool{
		StatePending:  false,
		StateApproved: false,
		StateRejected: true,
		StateApplied:  true,
	} {
		if got := state.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %t, want %t", state, got, want)
		}
	}
}

func TestPositionValidate(t *testing.T) {
	cases := []struct {
		name    string
		pos     CommentPosition
		wantErr bool
	}{
		{"line ok", CommentPosition{Kind: PositionLine, Line: 3}, false},
		{"line missing", CommentPosition{Kind: PositionLine}, true},
		{"char range ok", CommentPosition{Kind: PositionCharRange, StartChar: 5, EndChar: 10}, false},
		{"char range inverted", CommentPosition{Kind: PositionCharRange, StartChar: 10, EndChar: 5}, true},
		{"context ok", CommentPosition{Kind: PositionContext, Before: "previous sentence. "}, false},
		{"context empty", CommentPosition{Kind: PositionContext}, true},
		{"keyword ok", CommentPosition{Kind: PositionKeyword, Keyword: "SHALL", Occurrence: 2}, false},
		{"keyword without occurrence", CommentPosition{Kind: PositionKeyword, Keyword: "SHALL"}, true},
		{"unknown kind", CommentPosition{Kind: "paragraph"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pos.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %t", err, tc.wantErr)
			}
		})
	}
}

func TestThreadValidateRequiresOpeningComment(t *testing.T) {
	thread := Thread{
		ID:        "t1",
		ReqID:     "REQ-001",
		CreatedBy: "alice",
		CreatedAt: time.Now(),
		Position:  CommentPosition{Kind: PositionLine, Line: 1},
	}
	if err := thread.Validate(); err == nil {
		t.Fatal("Validate() should reject a thread with no comments")
	}
	thread.Comments = []Comment{{ID: "c1", Author: "alice", Body: "looks wrong", CreatedAt: time.Now()}}
	if err := thread.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
