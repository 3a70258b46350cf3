package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/airgap/internal/bundle"
)

type handler struct {
	bundles     BundleService
	registry    Registry
	log         *slog.Logger
	maxBodySize int64
}

func newHandler(services *Services, log *slog.Logger, maxBodySize int64) *handler {
	return &handler{
		bundles:     services.Bundles,
		registry:    services.Registry,
		log:         log,
		maxBodySize: maxBodySize,
	}
}

type errorResponse struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

type Artifact struct {
	Kind      string    `json:"kind"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

type Bundle struct {
	ID         uuid.UUID    `json:"id"`
	Target     string       `json:"target"`
	Platform   string       `json:"platform"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Spec       *bundle.Spec `json:"spec"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Artifacts  []*Artifact  `json:"artifacts"`
}

func newArtifacts(artifacts []*bundle.Artifact) []*Artifact {
	resp := make([]*Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, &Artifact{
			Kind:      string(a.Kind),
			Filename:  a.Filename,
			Size:      a.Size,
			Checksum:  a.Checksum,
			CreatedAt: a.CreatedAt,
		})
	}
	return resp
}

// GetHealth godoc
//
//	@Summary	Report liveness
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	object{status=string}
//	@Router		/health [get]
func (h *handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	h.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// CreateBundle godoc
//
//	@Summary	Submit a bundle job
//	@Tags		bundles
//	@Accept		json
//	@Produce	json
//	@Success	202	{object}	object{id=string,status=string}
//	@Failure	422	{object}	errorResponse
//	@Router		/bundles [post]
func (h *handler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("invalid request body: larger than %d bytes", maxBytesErr.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	job, err := h.bundles.Submit(r.Context(), raw)
	if err != nil {
		var validationErr *bundle.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid spec", Issues: validationErr.Issues})
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response{ID: job.ID, Status: string(job.Status)})
}

// GetBundle godoc
//
//	@Summary	Get a bundle job with its artifacts
//	@Tags		bundles
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{object}	Bundle
//	@Failure	404	{object}	errorResponse
//	@Router		/bundles/{id} [get]
func (h *handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	job, artifacts, err := h.bundles.Get(r.Context(), id)
	if err != nil {
		h.bundleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, &Bundle{
		ID:         job.ID,
		Target:     string(job.Spec.Target),
		Platform:   string(job.Platform),
		Status:     string(job.Status),
		Error:      job.Error,
		Spec:       job.Spec,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		FinishedAt: job.FinishedAt,
		Artifacts:  newArtifacts(artifacts),
	})
}

// ListArtifacts godoc
//
//	@Summary	List the artifacts of a bundle job
//	@Tags		bundles
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{array}		Artifact
//	@Failure	404	{object}	errorResponse
//	@Router		/bundles/{id}/artifacts [get]
func (h *handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	artifacts, err := h.bundles.ListArtifacts(r.Context(), id)
	if err != nil {
		h.bundleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newArtifacts(artifacts))
}

// GetArchive godoc
//
//	@Summary	Download the zip of a succeeded bundle job
//	@Tags		bundles
//	@Produce	application/zip
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{file}		binary
//	@Failure	404	{object}	errorResponse
//	@Failure	409	{object}	errorResponse
//	@Router		/bundles/{id}/archive [get]
func (h *handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	path, err := h.bundles.ArchivePath(r.Context(), id)
	if err != nil {
		h.bundleError(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, http.StatusNotFound, errors.New("archive not found"))
			return
		}
		h.internalError(w, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		h.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.ArchiveName(id)))
	http.ServeContent(w, r, bundle.ArchiveName(id), info.ModTime(), f)
}

func (h *handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	const pathValueID = "id"
	id, err := uuid.Parse(r.PathValue(pathValueID))
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("invalid %q request path value: %w", pathValueID, err))
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *handler) bundleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bundle.ErrNotFound):
		h.writeError(w, http.StatusNotFound, errors.New("bundle not found"))
	case errors.Is(err, bundle.ErrNotReady):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.internalError(w, err)
	}
}

func (h *handler) internalError(w http.ResponseWriter, err error) {
	h.log.Error("didn't handle request", "error", err)
	h.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func (h *handler) writeError(w http.ResponseWriter, code int, err error) {
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("didn't write response", "error", err)
	}
}
