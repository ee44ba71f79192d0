// Package app wires the review engine together: it orchestrates storage,
// position resolution, the status machine, and branch replication behind
// the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewhub/internal/config"
	"reviewhub/internal/position"
	"reviewhub/internal/reqdoc"
	"reviewhub/internal/review"
	"reviewhub/internal/store"
	"reviewhub/internal/vcs"
)

var allowedStatuses = map[string]struct{}{
	"DRAFT":      {},
	"IN_REVIEW":  {},
	"APPROVED":   {},
	"RELEASED":   {},
	"DEPRECATED": {},
}

type gitService interface {
	EnsureRepo() error
	EnsureReviewBranch(packageID, username string) (string, error)
	CurrentBranch() (string, error)
	HasRemote() bool
	CommitReviewState(message string) (string, error)
	Push(ctx context.Context) error
	Fetch(ctx context.Context, packageID string) error
	DiscoverBranches(packageID string) ([]vcs.Branch, error)
	ReadTree(branch vcs.Branch) (vcs.ReviewTree, error)
}

// SyncResult reports how replication went after a local write. Success false
// means "saved locally, not replicated" — never "lost".
type SyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ThreadView is a thread plus its anchor re-located against the current
// document text.
type ThreadView struct {
	review.Thread
	ResolvedPosition review.ResolvedPosition `json:"resolvedPosition"`
}

// RequirementStatus pairs the requirement's own status with its review flag.
type RequirementStatus struct {
	Requirement reqdoc.Requirement `json:"requirement"`
	Flag        review.ReviewFlag  `json:"flag"`
}

// ConsolidatedView is the local state merged with every fetched sibling
// branch for the active package.
type ConsolidatedView struct {
	ReqID    string                 `json:"reqId"`
	Threads  []ThreadView           `json:"threads"`
	Requests []review.StatusRequest `json:"requests"`
	Flag     review.ReviewFlag      `json:"flag"`
	Branches []vcs.Branch           `json:"branches"`
}

// SyncStatus is the replication health snapshot.
type SyncStatus struct {
	Branch         string       `json:"branch"`
	HasRemote      bool         `json:"hasRemote"`
	Siblings       []vcs.Branch `json:"siblings"`
	LastPushError  string       `json:"lastPushError,omitempty"`
	LastFetchError string       `json:"lastFetchError,omitempty"`
}

type Service struct {
	cfg    config.Config
	store  *store.Store
	source reqdoc.Source
	git    gitService
	log    *slog.Logger

	syncMu         sync.Mutex
	lastPushError  string
	lastFetchError string
}

func New(cfg config.Config, st *store.Store, source reqdoc.Source, git gitService, log *slog.Logger) *Service {
	return &Service{cfg: cfg, store: st, source: source, git: git, log: log}
}

// Bootstrap makes the repository and the reviewer's own branch usable
// before the first request.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.git.EnsureRepo(); err != nil {
		return fmt.Errorf("ensure repo: %w", err)
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.ActivePackageID == "" {
		return nil
	}
	branch, err := s.git.EnsureReviewBranch(settings.ActivePackageID, s.cfg.Username)
	if err != nil {
		return fmt.Errorf("ensure review branch: %w", err)
	}
	s.log.Info("review branch ready", "branch", branch)
	return nil
}

// --- threads ---

type NewThreadInput struct {
	Position review.CommentPosition `json:"position"`
	Body     string                 `json:"body"`
}

func (s *Service) CreateThread(ctx context.Context, reqID string, in NewThreadInput) (ThreadView, SyncResult, error) {
	if strings.TrimSpace(in.Body) == "" {
		return ThreadView{}, SyncResult{}, validationError("body is required")
	}
	doc := s.documentText(reqID)
	now := time.Now().UTC()
	thread := review.Thread{
		ID:        uuid.NewString(),
		ReqID:     reqID,
		Position:  capturePosition(doc, in.Position),
		CreatedBy: s.cfg.Username,
		CreatedAt: now,
		Comments: []review.Comment{{
			ID:        uuid.NewString(),
			Author:    s.cfg.Username,
			Body:      in.Body,
			CreatedAt: now,
		}},
	}
	if err := thread.Validate(); err != nil {
		return ThreadView{}, SyncResult{}, validationError(err.Error())
	}
	created, err := s.store.CreateThread(thread)
	if err != nil {
		return ThreadView{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Add thread on %s", reqID))
	return s.viewThread(created, doc), syncResult, nil
}

func (s *Service) AddComment(ctx context.Context, reqID, threadID, body string) (ThreadView, SyncResult, error) {
	if strings.TrimSpace(body) == "" {
		return ThreadView{}, SyncResult{}, validationError("body is required")
	}
	comment := review.Comment{
		ID:        uuid.NewString(),
		Author:    s.cfg.Username,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	thread, err := s.store.AppendComment(reqID, threadID, comment)
	if err != nil {
		return ThreadView{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Comment on thread %s", threadID))
	return s.viewThread(thread, s.documentText(reqID)), syncResult, nil
}

func (s *Service) ResolveThread(ctx context.Context, reqID, threadID string) (ThreadView, SyncResult, error) {
	thread, err := s.store.ResolveThread(reqID, threadID, s.cfg.Username, time.Now().UTC())
	if err != nil {
		return ThreadView{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Resolve thread %s", threadID))
	return s.viewThread(thread, s.documentText(reqID)), syncResult, nil
}

func (s *Service) UnresolveThread(ctx context.Context, reqID, threadID string) (ThreadView, SyncResult, error) {
	thread, err := s.store.UnresolveThread(reqID, threadID, time.Now().UTC())
	if err != nil {
		return ThreadView{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Reopen thread %s", threadID))
	return s.viewThread(thread, s.documentText(reqID)), syncResult, nil
}

// ListThreads returns the requirement's threads with anchors lazily
// re-resolved against the current document text.
func (s *Service) ListThreads(reqID string) ([]ThreadView, error) {
	threads, err := s.store.ListThreads(reqID)
	if err != nil {
		return nil, err
	}
	doc := s.documentText(reqID)
	views := make([]ThreadView, 0, len(threads))
	for _, thread := range threads {
		views = append(views, s.viewThread(thread, doc))
	}
	return views, nil
}

func (s *Service) viewThread(thread review.Thread, doc string) ThreadView {
	return ThreadView{
		Thread:           thread,
		ResolvedPosition: position.Resolve(thread.Position, doc),
	}
}

// documentText returns the current body a requirement's anchors resolve
// against. A missing requirement resolves against the empty document, which
// degrades every anchor to FAILED instead of erroring.
func (s *Service) documentText(reqID string) string {
	requirement, err := s.source.Get(reqID)
	if err != nil {
		return ""
	}
	return requirement.Content
}

// --- requirement status and flags ---

func (s *Service) RequirementStatus(reqID string) (RequirementStatus, error) {
	requirement, err := s.source.Get(reqID)
	if err != nil && !errors.Is(err, reqdoc.ErrNotFound) {
		return RequirementStatus{}, err
	}
	flag, err := s.store.GetFlag(reqID)
	if err != nil {
		return RequirementStatus{}, err
	}
	return RequirementStatus{Requirement: requirement, Flag: flag}, nil
}

type FlagInput struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Service) SetFlag(ctx context.Context, reqID string, in FlagInput) (review.ReviewFlag, SyncResult, error) {
	var flag review.ReviewFlag
	var err error
	now := time.Now().UTC()
	if in.Flagged {
		flag, err = s.store.SetFlag(reqID, s.cfg.Username, in.Reason, now)
	} else {
		flag, err = s.store.ClearFlag(reqID, s.cfg.Username, now)
	}
	if err != nil {
		return review.ReviewFlag{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Update flag on %s", reqID))
	return flag, syncResult, nil
}

// --- status requests ---

func (s *Service) ListRequests(reqID string) ([]review.StatusRequest, error) {
	return s.store.ListRequests(reqID)
}

func (s *Service) CreateRequest(ctx context.Context, reqID, toStatus string) (review.StatusRequest, SyncResult, error) {
	if _, ok := allowedStatuses[toStatus]; !ok {
		return review.StatusRequest{}, SyncResult{}, unprocessableError("INVALID_STATUS",
			fmt.Sprintf("unknown target status %q", toStatus))
	}
	requirement, err := s.source.Get(reqID)
	if err != nil {
		if errors.Is(err, reqdoc.ErrNotFound) {
			return review.StatusRequest{}, SyncResult{}, notFoundError("REQUIREMENT_NOT_FOUND", err.Error())
		}
		return review.StatusRequest{}, SyncResult{}, err
	}
	request := review.StatusRequest{
		ID:          uuid.NewString(),
		ReqID:       reqID,
		FromStatus:  requirement.Status,
		ToStatus:    toStatus,
		RequestedBy: s.cfg.Username,
		RequestedAt: time.Now().UTC(),
		Approvals:   map[string]review.Approval{},
		State:       review.StatePending,
	}
	created, err := s.store.CreateRequest(request)
	if err != nil {
		return review.StatusRequest{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Request %s -> %s on %s", request.FromStatus, toStatus, reqID))
	return created, syncResult, nil
}

type ApprovalInput struct {
	Decision review.Decision `json:"decision"`
	Comment  string          `json:"comment,omitempty"`
}

// AddApproval records a vote and, when the approval rule is met, applies
// the status change to the source record. Re-voting overwrites the user's
// earlier vote; the transition to APPLIED happens exactly once.
func (s *Service) AddApproval(ctx context.Context, reqID, requestID string, in ApprovalInput) (review.StatusRequest, SyncResult, error) {
	if in.Decision != review.DecisionApprove && in.Decision != review.DecisionReject {
		return review.StatusRequest{}, SyncResult{}, unprocessableError("INVALID_DECISION",
			fmt.Sprintf("decision must be APPROVE or REJECT, got %q", in.Decision))
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return review.StatusRequest{}, SyncResult{}, err
	}
	approval := review.Approval{
		User:      s.cfg.Username,
		Decision:  in.Decision,
		Comment:   in.Comment,
		Timestamp: time.Now().UTC(),
	}
	request, err := s.store.AddApproval(reqID, requestID, approval, settings.ApprovalRule)
	if err != nil {
		return review.StatusRequest{}, SyncResult{}, err
	}
	if request.State == review.StateApproved {
		request, err = s.applyRequest(reqID, request)
		if err != nil {
			return review.StatusRequest{}, SyncResult{}, err
		}
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Vote %s on request %s", in.Decision, requestID))
	return request, syncResult, nil
}

// applyRequest closes the loop with the document layer: write the new
// status into the source record and mark the request terminal.
func (s *Service) applyRequest(reqID string, request review.StatusRequest) (review.StatusRequest, error) {
	if _, err := s.source.SetStatus(reqID, request.ToStatus); err != nil {
		if errors.Is(err, reqdoc.ErrNotFound) {
			return review.StatusRequest{}, conflictError("APPLY_FAILED",
				fmt.Sprintf("requirement %s no longer exists", reqID))
		}
		return review.StatusRequest{}, fmt.Errorf("apply status change: %w", err)
	}
	applied, err := s.store.MarkApplied(reqID, request.ID, time.Now().UTC())
	if err != nil {
		return review.StatusRequest{}, err
	}
	s.log.Info("status request applied", "reqId", reqID, "requestId", request.ID, "toStatus", request.ToStatus)
	return applied, nil
}

// --- packages ---

type PackageInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Service) ListPackages() ([]review.ReviewPackage, error) {
	return s.store.ListPackages()
}

func (s *Service) GetPackage(packageID string) (review.ReviewPackage, error) {
	return s.store.GetPackage(packageID)
}

func (s *Service) CreatePackage(ctx context.Context, in PackageInput) (review.ReviewPackage, SyncResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return review.ReviewPackage{}, SyncResult{}, validationError("name is required")
	}
	pkg := review.ReviewPackage{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   s.cfg.Username,
		CreatedAt:   time.Now().UTC(),
		ReqIDs:      map[string]bool{},
	}
	created, err := s.store.CreatePackage(pkg)
	if err != nil {
		return review.ReviewPackage{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Create package %s", in.Name))
	return created, syncResult, nil
}

func (s *Service) UpdatePackage(ctx context.Context, packageID string, in PackageInput) (review.ReviewPackage, SyncResult, error) {
	pkg, err := s.store.UpdatePackage(packageID, in.Name, in.Description)
	if err != nil {
		return review.ReviewPackage{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Update package %s", packageID))
	return pkg, syncResult, nil
}

func (s *Service) DeletePackage(ctx context.Context, packageID string) (SyncResult, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return SyncResult{}, err
	}
	if settings.ActivePackageID == packageID {
		return SyncResult{}, conflictError("PACKAGE_ACTIVE", "cannot delete the active package")
	}
	if err := s.store.DeletePackage(packageID); err != nil {
		return SyncResult{}, err
	}
	return s.maybeSync(ctx, fmt.Sprintf("Delete package %s", packageID)), nil
}

func (s *Service) AddPackageMember(ctx context.Context, packageID, reqID string) (review.ReviewPackage, SyncResult, error) {
	pkg, err := s.store.AddPackageMember(packageID, reqID)
	if err != nil {
		return review.ReviewPackage{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Add %s to package %s", reqID, packageID))
	return pkg, syncResult, nil
}

func (s *Service) RemovePackageMember(ctx context.Context, packageID, reqID string) (review.ReviewPackage, SyncResult, error) {
	pkg, err := s.store.RemovePackageMember(packageID, reqID)
	if err != nil {
		return review.ReviewPackage{}, SyncResult{}, err
	}
	syncResult := s.maybeSync(ctx, fmt.Sprintf("Remove %s from package %s", reqID, packageID))
	return pkg, syncResult, nil
}

// ActivePackage returns the package this client is currently reviewing.
func (s *Service) ActivePackage() (*review.ReviewPackage, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	if settings.ActivePackageID == "" {
		return nil, nil
	}
	pkg, err := s.store.GetPackage(settings.ActivePackageID)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// SetActivePackage switches the client onto a package and checks out its
// replication branch.
func (s *Service) SetActivePackage(packageID string) (review.ReviewPackage, error) {
	pkg, err := s.store.GetPackage(packageID)
	if err != nil {
		return review.ReviewPackage{}, err
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return review.ReviewPackage{}, err
	}
	settings.ActivePackageID = packageID
	if err := s.store.SaveSettings(settings); err != nil {
		return review.ReviewPackage{}, err
	}
	branch, err := s.git.EnsureReviewBranch(packageID, s.cfg.Username)
	if err != nil {
		return review.ReviewPackage{}, fmt.Errorf("switch review branch: %w", err)
	}
	s.log.Info("active package set", "packageId", packageID, "branch", branch)
	return pkg, nil
}
