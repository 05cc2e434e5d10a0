package web

import (
	"net/http"

	"github.com/conorfennell/flashsync/internal/importer"
)

type sourceResponse struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	LastScanned string `json:"lastScanned,omitempty"`
}

// handleGetSources lists the sources that have been imported.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Registry == nil {
			s.respondError(w, r, errNotConfigured)
			return
		}
		sources, err := s.deps.Registry.GetAllSources(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		out := make([]sourceResponse, 0, len(sources))
		for _, src := range sources {
			sr := sourceResponse{ID: src.ID, Path: src.Path}
			if src.LastScanned.Valid {
				sr.LastScanned = src.LastScanned.Time.UTC().Format("2006-01-02T15:04:05Z")
			}
			out = append(out, sr)
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

type sourceRequest struct {
	Path string `json:"path"`
}

// handlePostSource imports one new source, which registers it for later
// runs.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Importer == nil {
			s.respondError(w, r, errNotConfigured)
			return
		}
		var req sourceRequest
		if err := decode(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		if req.Path == "" {
			s.respondError(w, r, errBadRequest)
			return
		}
		report, err := s.deps.Importer.Import(r.Context(), req.Path)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, reportJSON(report))
	}
}

// handlePostImport re-imports every registered source in the foreground.
func (s *Server) handlePostImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Importer == nil {
			s.respondError(w, r, errNotConfigured)
			return
		}
		reports, err := s.deps.Importer.Run(r.Context(), nil)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		out := make([]importReport, 0, len(reports))
		for _, rep := range reports {
			out = append(out, reportJSON(rep))
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

type importReport struct {
	Source  string   `json:"source"`
	Parsed  int      `json:"parsed"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

func reportJSON(r importer.Report) importReport {
	out := importReport{Source: r.Source, Parsed: r.Parsed, Added: r.Added, Skipped: r.Skipped}
	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
