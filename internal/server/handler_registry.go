package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/k11v/airgap/internal/registry"
)

const (
	kindNPM = "npm"
	kindPip = "pip"
	kindApt = "apt"
)

// SearchPackages godoc
//
//	@Summary	Search package names
//	@Tags		registry
//	@Produce	json
//	@Param		kind	path		string	true	"Package manager"	Enums(npm, pip, apt)
//	@Param		q		query		string	true	"Query"
//	@Param		image	query		string	false	"Distro image for apt"	Enums(ubuntu:20.04, ubuntu:22.04, ubuntu:24.04)
//	@Success	200		{object}	object{items=[]string}
//	@Failure	422		{object}	errorResponse
//	@Failure	502		{object}	errorResponse
//	@Router		/registry/{kind}/search [get]
func (h *handler) SearchPackages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Items []string `json:"items"`
	}

	q := r.URL.Query().Get("q")
	var (
		items []string
		err   error
	)
	switch kind := r.PathValue("kind"); kind {
	case kindNPM:
		items, err = h.registry.SearchNPM(r.Context(), q)
	case kindPip:
		items, err = h.registry.SearchPyPI(r.Context(), q)
	case kindApt:
		items, err = h.registry.SearchApt(r.Context(), q, r.URL.Query().Get("image"))
	default:
		h.unknownKind(w, kind)
		return
	}
	if err != nil {
		h.registryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, response{Items: items})
}

// ListVersions godoc
//
//	@Summary	List package versions, newest first
//	@Tags		registry
//	@Produce	json
//	@Param		kind	path		string	true	"Package manager"	Enums(npm, pip, apt)
//	@Param		name	query		string	true	"Package name"
//	@Param		image	query		string	false	"Distro image for apt"	Enums(ubuntu:20.04, ubuntu:22.04, ubuntu:24.04)
//	@Success	200		{object}	object{versions=[]string}
//	@Failure	404		{object}	errorResponse
//	@Failure	422		{object}	errorResponse
//	@Router		/registry/{kind}/versions [get]
func (h *handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Versions []string `json:"versions"`
	}

	name := r.URL.Query().Get("name")
	var (
		versions []string
		err      error
	)
	switch kind := r.PathValue("kind"); kind {
	case kindNPM:
		versions, err = h.registry.NPMVersions(r.Context(), name)
	case kindPip:
		versions, err = h.registry.PyPIVersions(r.Context(), name)
	case kindApt:
		versions, err = h.registry.AptVersions(r.Context(), name, r.URL.Query().Get("image"))
	default:
		h.unknownKind(w, kind)
		return
	}
	if err != nil {
		h.registryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, response{Versions: versions})
}

// SuggestDependencies godoc
//
//	@Summary	List the direct dependencies of a package version
//	@Tags		registry
//	@Produce	json
//	@Param		kind	path		string	true	"Package manager"	Enums(npm, pip)
//	@Param		name	query		string	true	"Package name"
//	@Param		version	query		string	false	"Version, latest if empty"
//	@Success	200		{object}	registry.Suggestion
//	@Failure	404		{object}	errorResponse
//	@Failure	422		{object}	errorResponse
//	@Router		/registry/{kind}/suggest [get]
func (h *handler) SuggestDependencies(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	version := r.URL.Query().Get("version")
	if name == "" {
		h.writeError(w, http.StatusUnprocessableEntity, errors.New(`missing "name" query parameter`))
		return
	}

	var (
		suggestion *registry.Suggestion
		err        error
	)
	switch kind := r.PathValue("kind"); kind {
	case kindNPM:
		suggestion, err = h.registry.SuggestNPM(r.Context(), name, version)
	case kindPip:
		suggestion, err = h.registry.SuggestPip(r.Context(), name, version)
	default:
		h.unknownKind(w, kind)
		return
	}
	if err != nil {
		h.registryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, suggestion)
}

func (h *handler) unknownKind(w http.ResponseWriter, kind string) {
	h.writeError(w, http.StatusNotFound, fmt.Errorf("unknown package kind %q", kind))
}

func (h *handler) registryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if errors.Is(err, registry.ErrUnsupportedImage) {
		h.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.log.Warn("didn't query registry", "error", err)
	h.writeError(w, http.StatusBadGateway, err)
}
