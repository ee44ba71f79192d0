package app

import (
	"context"
	"errors"
	"fmt"

	"reviewhub/internal/review"
	"reviewhub/internal/store"
	"reviewhub/internal/vcs"
)

// maybeSync commits and pushes the review tree after a local write when
// auto-sync is on. It never fails the write: every replication problem is
// folded into the SyncResult so the caller can tell "saved locally" from
// "saved and replicated".
func (s *Service) maybeSync(ctx context.Context, message string) SyncResult {
	settings, err := s.store.LoadSettings()
	if err != nil {
		s.log.Warn("auto-sync skipped, settings unreadable", "error", err)
		return SyncResult{Success: false, Message: fmt.Sprintf("settings unreadable: %v", err)}
	}
	if !settings.AutoSync {
		return SyncResult{Success: true, Message: "auto-sync disabled"}
	}
	return s.pushReviewState(ctx, message)
}

// SyncPush commits any pending review-state changes and pushes the current
// branch.
func (s *Service) SyncPush(ctx context.Context) SyncResult {
	return s.pushReviewState(ctx, "Update review state")
}

func (s *Service) pushReviewState(ctx context.Context, message string) SyncResult {
	hash, err := s.git.CommitReviewState(message)
	if err != nil {
		s.setPushError(err.Error())
		s.log.Warn("review-state commit failed", "error", err)
		return SyncResult{Success: false, Message: fmt.Sprintf("commit failed: %v", err)}
	}
	if err := s.git.Push(ctx); err != nil {
		if errors.Is(err, vcs.ErrNoRemote) {
			s.setPushError("")
			return SyncResult{Success: true, Message: "committed locally; no remote configured"}
		}
		s.setPushError(err.Error())
		s.log.Warn("push failed", "error", err)
		return SyncResult{Success: false, Message: fmt.Sprintf("saved locally, push failed: %v", err)}
	}
	s.setPushError("")
	if hash == "" {
		return SyncResult{Success: true, Message: "nothing to commit"}
	}
	return SyncResult{Success: true, Message: fmt.Sprintf("pushed %s", hash)}
}

// SyncFetch pulls the sibling branches for one package and folds their
// review trees into the local state. Convergence is pull-based: it happens
// here and nowhere else.
func (s *Service) SyncFetch(ctx context.Context, packageID string) SyncResult {
	if packageID == "" {
		settings, err := s.store.LoadSettings()
		if err != nil {
			return SyncResult{Success: false, Message: fmt.Sprintf("settings unreadable: %v", err)}
		}
		packageID = settings.ActivePackageID
	}
	if packageID == "" {
		return SyncResult{Success: false, Message: "no active package to fetch for"}
	}
	if err := s.git.Fetch(ctx, packageID); err != nil && !errors.Is(err, vcs.ErrNoRemote) {
		s.setFetchError(err.Error())
		s.log.Warn("fetch failed", "packageId", packageID, "error", err)
		return SyncResult{Success: false, Message: fmt.Sprintf("fetch failed: %v", err)}
	}
	if err := s.mergeFetched(packageID); err != nil {
		s.setFetchError(err.Error())
		return SyncResult{Success: false, Message: fmt.Sprintf("merge failed: %v", err)}
	}
	s.setFetchError("")
	return SyncResult{Success: true, Message: fmt.Sprintf("fetched and merged package %s", packageID)}
}

// SyncFetchAll fetches and merges every known package.
func (s *Service) SyncFetchAll(ctx context.Context) SyncResult {
	packages, err := s.store.ListPackages()
	if err != nil {
		return SyncResult{Success: false, Message: fmt.Sprintf("list packages: %v", err)}
	}
	failures := 0
	for _, pkg := range packages {
		if result := s.SyncFetch(ctx, pkg.ID); !result.Success {
			failures++
		}
	}
	if failures > 0 {
		return SyncResult{Success: false, Message: fmt.Sprintf("%d of %d packages failed to sync", failures, len(packages))}
	}
	return SyncResult{Success: true, Message: fmt.Sprintf("fetched and merged %d packages", len(packages))}
}

// SyncStatusReport snapshots replication health for the active package.
func (s *Service) SyncStatusReport() (SyncStatus, error) {
	branch, err := s.git.CurrentBranch()
	if err != nil {
		return SyncStatus{}, err
	}
	status := SyncStatus{Branch: branch, HasRemote: s.git.HasRemote()}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return SyncStatus{}, err
	}
	if settings.ActivePackageID != "" {
		siblings, err := s.git.DiscoverBranches(settings.ActivePackageID)
		if err != nil {
			return SyncStatus{}, err
		}
		status.Siblings = siblings
	}
	s.syncMu.Lock()
	status.LastPushError = s.lastPushError
	status.LastFetchError = s.lastFetchError
	s.syncMu.Unlock()
	return status, nil
}

// mergeFetched folds every discovered branch tree for a package into the
// local store. The merge is deterministic, so the result is identical no
// matter which replica runs it or in what order trees arrive.
func (s *Service) mergeFetched(packageID string) error {
	branches, err := s.git.DiscoverBranches(packageID)
	if err != nil {
		return err
	}
	trees := make([]vcs.ReviewTree, 0, len(branches))
	for _, branch := range branches {
		tree, err := s.git.ReadTree(branch)
		if err != nil {
			return fmt.Errorf("read tree of %s: %w", branch.Name, err)
		}
		trees = append(trees, tree)
	}

	settings, err := s.store.LoadSettings()
	if err != nil {
		return err
	}

	reqIDs := make(map[string]bool)
	localIDs, err := s.store.ListReqIDs()
	if err != nil {
		return err
	}
	for _, id := range localIDs {
		reqIDs[id] = true
	}
	for _, tree := range trees {
		for id := range tree.Threads {
			reqIDs[id] = true
		}
		for id := range tree.Requests {
			reqIDs[id] = true
		}
		for id := range tree.Flags {
			reqIDs[id] = true
		}
	}

	for reqID := range reqIDs {
		if err := s.mergeRequirement(reqID, trees, settings.ApprovalRule); err != nil {
			return err
		}
	}
	return nil
}

// mergeRequirement folds the fetched branch trees for one requirement into
// the local store. Each record file is read, merged, and written back inside
// one locked update, so a write that lands while the merge is computing can
// never be overwritten by the stale merged result.
func (s *Service) mergeRequirement(reqID string, trees []vcs.ReviewTree, rule review.ApprovalRule) error {
	var remoteThreads [][]review.Thread
	var remoteRequests [][]review.StatusRequest
	var remoteFlags []review.ReviewFlag
	for _, tree := range trees {
		remoteThreads = append(remoteThreads, tree.Threads[reqID])
		remoteRequests = append(remoteRequests, tree.Requests[reqID])
		if flag, ok := tree.Flags[reqID]; ok {
			remoteFlags = append(remoteFlags, flag)
		}
	}

	if err := s.store.UpdateThreads(reqID, func(local []review.Thread) []review.Thread {
		return review.MergeThreads(append([][]review.Thread{local}, remoteThreads...)...)
	}); err != nil {
		return err
	}

	var approved []review.StatusRequest
	if err := s.store.UpdateRequests(reqID, func(local []review.StatusRequest) []review.StatusRequest {
		merged := review.MergeRequests(append([][]review.StatusRequest{local}, remoteRequests...)...)
		approved = nil
		for i := range merged {
			merged[i] = review.ReconcileState(merged[i], rule)
			if merged[i].State == review.StateApproved {
				approved = append(approved, merged[i])
			}
		}
		return merged
	}); err != nil {
		return err
	}
	// Split votes can cross the approval threshold only here, at merge time;
	// apply those requests the same way a live vote would have.
	for _, request := range approved {
		if _, err := s.applyRequest(reqID, request); err != nil {
			s.log.Warn("apply after merge failed", "reqId", reqID, "requestId", request.ID, "error", err)
		}
	}

	return s.store.UpdateFlag(reqID, func(local review.ReviewFlag) review.ReviewFlag {
		return review.MergeFlags(append([]review.ReviewFlag{local}, remoteFlags...)...)
	})
}

// ConsolidatedViewOf builds the merged view of one requirement across the
// local state and every sibling branch, without writing anything back.
func (s *Service) ConsolidatedViewOf(reqID string) (ConsolidatedView, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return ConsolidatedView{}, err
	}
	view := ConsolidatedView{ReqID: reqID}

	var trees []vcs.ReviewTree
	if settings.ActivePackageID != "" {
		branches, err := s.git.DiscoverBranches(settings.ActivePackageID)
		if err != nil {
			return ConsolidatedView{}, err
		}
		view.Branches = branches
		for _, branch := range branches {
			tree, err := s.git.ReadTree(branch)
			if err != nil {
				return ConsolidatedView{}, fmt.Errorf("read tree of %s: %w", branch.Name, err)
			}
			trees = append(trees, tree)
		}
	}

	localThreads, err := s.store.ListThreads(reqID)
	if err != nil {
		return ConsolidatedView{}, err
	}
	localRequests, err := s.store.ListRequests(reqID)
	if err != nil {
		return ConsolidatedView{}, err
	}
	localFlag, err := s.store.GetFlag(reqID)
	if err != nil {
		return ConsolidatedView{}, err
	}

	key := store.NormalizeReqID(reqID)
	threadSets := [][]review.Thread{localThreads}
	requestSets := [][]review.StatusRequest{localRequests}
	flags := []review.ReviewFlag{localFlag}
	for _, tree := range trees {
		threadSets = append(threadSets, tree.Threads[key])
		requestSets = append(requestSets, tree.Requests[key])
		if flag, ok := tree.Flags[key]; ok {
			flags = append(flags, flag)
		}
	}

	doc := s.documentText(reqID)
	for _, thread := range review.MergeThreads(threadSets...) {
		view.Threads = append(view.Threads, s.viewThread(thread, doc))
	}
	view.Requests = review.MergeRequests(requestSets...)
	for i := range view.Requests {
		view.Requests[i] = review.ReconcileState(view.Requests[i], settings.ApprovalRule)
	}
	view.Flag = review.MergeFlags(flags...)
	return view, nil
}

func (s *Service) setPushError(message string) {
	s.syncMu.Lock()
	s.lastPushError = message
	s.syncMu.Unlock()
}

func (s *Service) setFetchError(message string) {
	s.syncMu.Lock()
	s.lastFetchError = message
	s.syncMu.Unlock()
}
