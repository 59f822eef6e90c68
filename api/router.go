package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emilyzhang/scrapr/crawlerdb"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// routes routes requests to the correct handler.
func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Get("/status", s.statusHandler)
	r.Route("/resources", func(r chi.Router) {
		r.Get("/", s.resourcesHandler)
		r.Get("/lookup", s.lookupHandler)
		r.Get("/hosts", s.hostsHandler)
	})
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Not a valid endpoint: %s", req.URL.Path))
	})
	return r
}

// healthHandler specifies a handler for the /healthz endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusHandler specifies a handler for the /status endpoint.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"resources": s.sched.Status()})
}

// resourcesHandler specifies a handler for the /resources endpoint.
func (s *Server) resourcesHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := intParam(req, "limit", defaultLimit)
	if err != nil || limit < 1 || limit > maxLimit {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		return
	}
	offset, err := intParam(req, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative number")
		return
	}

	total, err := s.db.CountResources(req.Context())
	if err != nil {
		s.internalError(w, req, err)
		return
	}
	resources, err := s.db.ListResources(req.Context(), limit, offset)
	if err != nil {
		s.internalError(w, req, err)
		return
	}
	if resources == nil {
		resources = []crawlerdb.Resource{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"limit":     limit,
		"offset":    offset,
		"resources": resources,
	})
}

// lookupHandler specifies a handler for the /resources/lookup?url= endpoint.
func (s *Server) lookupHandler(w http.ResponseWriter, req *http.Request) {
	u := req.URL.Query().Get("url")
	if u == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	res, err := s.db.GetResource(req.Context(), u)
	if errors.Is(err, crawlerdb.ErrDoesNotExist) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("There is no resource with this url: %s", u))
		return
	}
	if err != nil {
		s.internalError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// hostCount is one row of the /resources/hosts response.
type hostCount struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// hostsHandler specifies a handler for the /resources/hosts endpoint: the
// number of visited resources per host, most visited first.
func (s *Server) hostsHandler(w http.ResponseWriter, req *http.Request) {
	counts := make(map[string]int)
	for offset := 0; ; offset += maxLimit {
		page, err := s.db.ListResources(req.Context(), maxLimit, offset)
		if err != nil {
			s.internalError(w, req, err)
			return
		}
		for _, r := range page {
			u, err := url.Parse(r.URL)
			if err != nil {
				s.log.Warn("Unable to parse stored url", "url", r.URL, "error", err)
				continue
			}
			counts[u.Hostname()]++
		}
		if len(page) < maxLimit {
			break
		}
	}

	hosts := make([]hostCount, 0, len(counts))
	for h, n := range counts {
		hosts = append(hosts, hostCount{Host: h, Count: n})
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Count != hosts[j].Count {
			return hosts[i].Count > hosts[j].Count
		}
		return hosts[i].Host < hosts[j].Host
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"hosts": hosts})
}

func intParam(req *http.Request, name string, def int) (int, error) {
	v := req.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, req *http.Request, err error) {
	s.log.Error("Error from request", "path", req.URL.Path, "error", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
