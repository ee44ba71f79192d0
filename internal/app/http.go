package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reviewhub/internal/reqdoc"
	"reviewhub/internal/store"
)

const maxBodyBytes = 1 << 20

// HTTPServer is the thin request/response surface over Service. Each
// mutating handler performs one storage operation; replication outcomes
// ride along in the response's sync sub-object.
type HTTPServer struct {
	service *Service
	log     *slog.Logger
}

func NewHTTPServer(service *Service, log *slog.Logger) *HTTPServer {
	return &HTTPServer{service: service, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/reqs/{id}", func(r chi.Router) {
		r.Get("/threads", s.handleListThreads)
		r.Post("/threads", s.handleCreateThread)
		r.Post("/threads/{tid}/comments", s.handleAddComment)
		r.Post("/threads/{tid}/resolve", s.handleResolveThread)
		r.Delete("/threads/{tid}/resolve", s.handleUnresolveThread)
		r.Get("/status", s.handleGetStatus)
		r.Post("/status", s.handleSetFlag)
		r.Get("/requests", s.handleListRequests)
		r.Post("/requests", s.handleCreateRequest)
		r.Post("/requests/{rid}/approvals", s.handleAddApproval)
		r.Get("/view", s.handleConsolidatedView)
	})

	r.Route("/packages", func(r chi.Router) {
		r.Get("/", s.handleListPackages)
		r.Post("/", s.handleCreatePackage)
		r.Get("/active", s.handleGetActivePackage)
		r.Put("/active", s.handleSetActivePackage)
		r.Get("/{id}", s.handleGetPackage)
		r.Put("/{id}", s.handleUpdatePackage)
		r.Delete("/{id}", s.handleDeletePackage)
		r.Post("/{id}/members", s.handleAddPackageMember)
		r.Delete("/{id}/members/{reqId}", s.handleRemovePackageMember)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.handleSyncStatus)
		r.Post("/push", s.handleSyncPush)
		r.Post("/fetch", s.handleSyncFetch)
		r.Post("/fetch-all-package", s.handleSyncFetchAll)
	})

	return r
}

// --- threads ---

func (s *HTTPServer) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.service.ListThreads(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *HTTPServer) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var body NewThreadInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	thread, sync, err := s.service.CreateThread(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"thread": thread, "sync": sync})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	thread, sync, err := s.service.AddComment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tid"), body.Body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"thread": thread, "sync": sync})
}

func (s *HTTPServer) handleResolveThread(w http.ResponseWriter, r *http.Request) {
	thread, sync, err := s.service.ResolveThread(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tid"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": thread, "sync": sync})
}

func (s *HTTPServer) handleUnresolveThread(w http.ResponseWriter, r *http.Request) {
	thread, sync, err := s.service.UnresolveThread(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tid"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": thread, "sync": sync})
}

// --- requirement status, flags, requests ---

func (s *HTTPServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.RequirementStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	var body FlagInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	flag, sync, err := s.service.SetFlag(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flag": flag, "sync": sync})
}

func (s *HTTPServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.service.ListRequests(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *HTTPServer) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToStatus string `json:"toStatus"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	request, sync, err := s.service.CreateRequest(r.Context(), chi.URLParam(r, "id"), body.ToStatus)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": request, "sync": sync})
}

func (s *HTTPServer) handleAddApproval(w http.ResponseWriter, r *http.Request) {
	var body ApprovalInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	request, sync, err := s.service.AddApproval(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "rid"), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": request, "sync": sync})
}

func (s *HTTPServer) handleConsolidatedView(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ConsolidatedViewOf(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- packages ---

func (s *HTTPServer) handleListPackages(w http.ResponseWriter, _ *http.Request) {
	packages, err := s.service.ListPackages()
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": packages})
}

func (s *HTTPServer) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.service.GetPackage(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg})
}

func (s *HTTPServer) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var body PackageInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	pkg, sync, err := s.service.CreatePackage(r.Context(), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"package": pkg, "sync": sync})
}

func (s *HTTPServer) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	var body PackageInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	pkg, sync, err := s.service.UpdatePackage(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg, "sync": sync})
}

func (s *HTTPServer) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	sync, err := s.service.DeletePackage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sync": sync})
}

func (s *HTTPServer) handleAddPackageMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReqID string `json:"reqId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.ReqID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reqId is required", nil)
		return
	}
	pkg, sync, err := s.service.AddPackageMember(r.Context(), chi.URLParam(r, "id"), body.ReqID)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg, "sync": sync})
}

func (s *HTTPServer) handleRemovePackageMember(w http.ResponseWriter, r *http.Request) {
	pkg, sync, err := s.service.RemovePackageMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "reqId"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg, "sync": sync})
}

func (s *HTTPServer) handleGetActivePackage(w http.ResponseWriter, _ *http.Request) {
	pkg, err := s.service.ActivePackage()
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg})
}

func (s *HTTPServer) handleSetActivePackage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PackageID string `json:"packageId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.PackageID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "packageId is required", nil)
		return
	}
	pkg, err := s.service.SetActivePackage(body.PackageID)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg})
}

// --- sync ---

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.service.SyncStatusReport()
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sync": s.service.SyncPush(r.Context())})
}

func (s *HTTPServer) handleSyncFetch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PackageID string `json:"packageId"`
	}
	// An empty body means "the active package".
	_ = decodeBody(r, &body)
	writeJSON(w, http.StatusOK, map[string]any{"sync": s.service.SyncFetch(r.Context(), body.PackageID)})
}

func (s *HTTPServer) handleSyncFetchAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sync": s.service.SyncFetchAll(r.Context())})
}

// --- helpers ---

func (s *HTTPServer) handleError(w http.ResponseWriter, err error) {
	var domain *DomainError
	switch {
	case errors.As(err, &domain):
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, reqdoc.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, store.ErrCorruptRecord):
		s.log.Error("corrupt review record", "error", err)
		writeError(w, http.StatusInternalServerError, "CORRUPT_RECORD", err.Error(), nil)
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", err.Error(), nil)
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
