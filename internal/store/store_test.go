package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reviewhub/internal/review"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func testThread(id, reqID string) review.Thread {
	return review.Thread{
		ID:        id,
		ReqID:     reqID,
		CreatedBy: "alice",
		CreatedAt: time.Now().UTC(),
		Position:  review.CommentPosition{Kind: review.PositionLine, Line: 1, Anchor: "alpha"},
		Comments: []review.Comment{
			{ID: id + "-c1", Author: "alice", Body: "opening note", CreatedAt: time.Now().UTC()},
		},
	}
}

func testRequest(id, reqID string) review.StatusRequest {
	return review.StatusRequest{
		ID:          id,
		ReqID:       reqID,
		FromStatus:  "DRAFT",
		ToStatus:    "IN_REVIEW",
		RequestedBy: "alice",
		RequestedAt: time.Now().UTC(),
		State:       review.StatePending,
	}
}

func TestListThreadsMissingFile(t *testing.T) {
	s := testStore(t)
	threads, err := s.ListThreads("REQ-001")
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("ListThreads() on empty store = %d threads, want 0", len(threads))
	}
}

func TestCreateThreadDuplicate(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	_, err := s.CreateThread(testThread("t1", "REQ-001"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateThread() duplicate error = %v, want ErrConflict", err)
	}
}

func TestResolveUnresolveRoundTrip(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	resolved, err := s.ResolveThread("REQ-001", "t1", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("ResolveThread() error = %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy != "bob" || resolved.ResolvedAt == nil {
		t.Fatalf("ResolveThread() = %+v, want resolved by bob", resolved)
	}
	reopened, err := s.UnresolveThread("REQ-001", "t1", time.Now().UTC())
	if err != nil {
		t.Fatalf("UnresolveThread() error = %v", err)
	}
	if reopened.Resolved || reopened.UnresolvedAt == nil {
		t.Fatalf("UnresolveThread() = %+v, want reopened", reopened)
	}
}

func TestAppendCommentConcurrent(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			comment := review.Comment{
				ID:        fmt.Sprintf("c-%d", n),
				Author:    "bob",
				Body:      "concurrent note",
				CreatedAt: time.Now().UTC(),
			}
			if _, err := s.AppendComment("REQ-001", "t1", comment); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendComment() error = %v", err)
	}

	threads, err := s.ListThreads("REQ-001")
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if got := len(threads[0].Comments); got != writers+1 {
		t.Fatalf("comment count = %d, want %d (no lost updates)", got, writers+1)
	}
}

func TestUpdateThreadsKeepsInterleavedComment(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	// A merge write-back holds the requirement lock while a comment lands;
	// the comment must block until the merge is written, not be overwritten
	// by the stale merged list.
	entered := make(chan struct{})
	release := make(chan struct{})
	updateDone := make(chan error, 1)
	go func() {
		updateDone <- s.UpdateThreads("REQ-001", func(local []review.Thread) []review.Thread {
			close(entered)
			<-release
			return review.MergeThreads(local, []review.Thread{testThread("t2", "REQ-001")})
		})
	}()
	<-entered

	appendDone := make(chan error, 1)
	go func() {
		comment := review.Comment{ID: "c-live", Author: "bob", Body: "landed mid-merge", CreatedAt: time.Now().UTC()}
		_, err := s.AppendComment("REQ-001", "t1", comment)
		appendDone <- err
	}()
	close(release)
	if err := <-updateDone; err != nil {
		t.Fatalf("UpdateThreads() error = %v", err)
	}
	if err := <-appendDone; err != nil {
		t.Fatalf("AppendComment() error = %v", err)
	}

	threads, err := s.ListThreads("REQ-001")
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("thread count after merge = %d, want 2", len(threads))
	}
	var t1 review.Thread
	for _, thread := range threads {
		if thread.ID == "t1" {
			t1 = thread
		}
	}
	if len(t1.Comments) != 2 {
		t.Fatalf("comment count after merge = %d, want 2: the interleaved comment must survive", len(t1.Comments))
	}
}

func TestUpdateThreadsSkipsEmptyWrite(t *testing.T) {
	s := testStore(t)
	err := s.UpdateThreads("REQ-404", func(local []review.Thread) []review.Thread {
		return review.MergeThreads(local)
	})
	if err != nil {
		t.Fatalf("UpdateThreads() error = %v", err)
	}
	if _, err := os.Stat(s.threadsPath("REQ-404")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty update must not create a record file, got %v", err)
	}
}

func TestCorruptThreadFile(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if err := os.WriteFile(s.threadsPath("REQ-001"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := s.ListThreads("REQ-001")
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("ListThreads() on corrupt file error = %v, want ErrCorruptRecord", err)
	}
}

func TestStrayTempFileIgnored(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateThread(testThread("t1", "REQ-001")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	// Simulate an interrupted write: a leftover temp file next to the record.
	stray := filepath.Join(s.reqDir("REQ-001"), "threads.json.12345.tmp")
	if err := os.WriteFile(stray, []byte("partial garbag"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	threads, err := s.ListThreads("REQ-001")
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("ListThreads() = %d threads, want 1", len(threads))
	}
}

func TestAddApprovalStateMachine(t *testing.T) {
	s := testStore(t)
	rule := review.ApprovalRule{MinApprovals: 2}
	if _, err := s.CreateRequest(testRequest("r1", "REQ-001")); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	first, err := s.AddApproval("REQ-001", "r1", review.Approval{User: "bob", Decision: review.DecisionApprove, Timestamp: time.Now().UTC()}, rule)
	if err != nil {
		t.Fatalf("AddApproval() error = %v", err)
	}
	if first.State != review.StatePending {
		t.Fatalf("state after one vote = %s, want PENDING", first.State)
	}

	second, err := s.AddApproval("REQ-001", "r1", review.Approval{User: "carol", Decision: review.DecisionApprove, Timestamp: time.Now().UTC()}, rule)
	if err != nil {
		t.Fatalf("AddApproval() error = %v", err)
	}
	if second.State != review.StateApproved {
		t.Fatalf("state after threshold = %s, want APPROVED", second.State)
	}
}

func TestAddApprovalRejectIsTerminal(t *testing.T) {
	s := testStore(t)
	rule := review.ApprovalRule{MinApprovals: 1}
	if _, err := s.CreateRequest(testRequest("r1", "REQ-001")); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	rejected, err := s.AddApproval("REQ-001", "r1", review.Approval{User: "bob", Decision: review.DecisionReject, Timestamp: time.Now().UTC()}, rule)
	if err != nil {
		t.Fatalf("AddApproval() error = %v", err)
	}
	if rejected.State != review.StateRejected || rejected.RejectedAt == nil {
		t.Fatalf("AddApproval() = %+v, want REJECTED with timestamp", rejected)
	}
	_, err = s.AddApproval("REQ-001", "r1", review.Approval{User: "carol", Decision: review.DecisionApprove, Timestamp: time.Now().UTC()}, rule)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("AddApproval() on terminal request error = %v, want ErrConflict", err)
	}
}

func TestMarkAppliedExactlyOnce(t *testing.T) {
	s := testStore(t)
	rule := review.ApprovalRule{MinApprovals: 1}
	if _, err := s.CreateRequest(testRequest("r1", "REQ-001")); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if _, err := s.AddApproval("REQ-001", "r1", review.Approval{User: "bob", Decision: review.DecisionApprove, Timestamp: time.Now().UTC()}, rule); err != nil {
		t.Fatalf("AddApproval() error = %v", err)
	}
	applied, err := s.MarkApplied("REQ-001", "r1", time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkApplied() error = %v", err)
	}
	if applied.State != review.StateApplied || applied.AppliedAt == nil {
		t.Fatalf("MarkApplied() = %+v, want APPLIED with timestamp", applied)
	}
	_, err = s.MarkApplied("REQ-001", "r1", time.Now().UTC())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second MarkApplied() error = %v, want ErrConflict", err)
	}
}

func TestFlagSetAndClear(t *testing.T) {
	s := testStore(t)
	flagged, err := s.SetFlag("REQ-001", "alice", "ambiguous wording", time.Now().UTC())
	if err != nil {
		t.Fatalf("SetFlag() error = %v", err)
	}
	if !flagged.Flagged || flagged.FlaggedBy != "alice" || flagged.FlaggedAt == nil {
		t.Fatalf("SetFlag() = %+v, want flagged by alice", flagged)
	}
	cleared, err := s.ClearFlag("REQ-001", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("ClearFlag() error = %v", err)
	}
	// The clear keeps who and when so it wins later-timestamp merges.
	if cleared.Flagged || cleared.FlaggedBy != "bob" || cleared.FlaggedAt == nil {
		t.Fatalf("ClearFlag() = %+v, want unflagged with actor recorded", cleared)
	}
}

func TestCreatePackageDuplicateName(t *testing.T) {
	s := testStore(t)
	pkg := review.ReviewPackage{ID: "pkg-1", Name: "Release 1.0", CreatedBy: "alice", CreatedAt: time.Now().UTC()}
	if _, err := s.CreatePackage(pkg); err != nil {
		t.Fatalf("CreatePackage() error = %v", err)
	}
	_, err := s.CreatePackage(review.ReviewPackage{ID: "pkg-2", Name: "Release 1.0", CreatedBy: "bob", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("CreatePackage() duplicate name error = %v, want ErrConflict", err)
	}
}

func TestPackageMembers(t *testing.T) {
	s := testStore(t)
	pkg := review.ReviewPackage{ID: "pkg-1", Name: "Release 1.0", CreatedBy: "alice", CreatedAt: time.Now().UTC()}
	if _, err := s.CreatePackage(pkg); err != nil {
		t.Fatalf("CreatePackage() error = %v", err)
	}
	withMember, err := s.AddPackageMember("pkg-1", "REQ-001")
	if err != nil {
		t.Fatalf("AddPackageMember() error = %v", err)
	}
	if !withMember.ReqIDs["REQ-001"] {
		t.Fatalf("AddPackageMember() = %+v, REQ-001 missing", withMember.ReqIDs)
	}
	without, err := s.RemovePackageMember("pkg-1", "REQ-001")
	if err != nil {
		t.Fatalf("RemovePackageMember() error = %v", err)
	}
	if without.ReqIDs["REQ-001"] {
		t.Fatalf("RemovePackageMember() left REQ-001 in %+v", without.ReqIDs)
	}
}

func TestListReqIDs(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"REQ-002", "REQ-001"} {
		if _, err := s.CreateThread(testThread("t-"+id, id)); err != nil {
			t.Fatalf("CreateThread(%s) error = %v", id, err)
		}
	}
	ids, err := s.ListReqIDs()
	if err != nil {
		t.Fatalf("ListReqIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "req-001" || ids[1] != "req-002" {
		t.Fatalf("ListReqIDs() = %v, want [req-001 req-002]", ids)
	}
}

func TestNormalizeReqID(t *testing.T) {
	cases := map[string]string{
		"REQ-001":        "req-001",
		"SYS/Auth 01": "sys-auth-01",
		" Spaced Out ": "spaced-out",
	}
	for in, want := range cases {
		if got := NormalizeReqID(in); got != want {
			t.Fatalf("NormalizeReqID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	settings, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if !settings.AutoSync || settings.ApprovalRule.MinApprovals != 1 {
		t.Fatalf("default settings = %+v", settings)
	}

	settings.AutoSync = false
	settings.ActivePackageID = "pkg-1"
	settings.ApprovalRule = review.ApprovalRule{MinApprovals: 2, RequiredUsers: []string{"lead"}}
	if err := s.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	reloaded, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if reloaded.AutoSync || reloaded.ActivePackageID != "pkg-1" || reloaded.ApprovalRule.MinApprovals != 2 {
		t.Fatalf("reloaded settings = %+v", reloaded)
	}
}
