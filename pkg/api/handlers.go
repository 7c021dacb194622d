package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.seriesStore.GetSummary(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Summary query failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"summary query failed"})

		return
	}

	if summary == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"no report generated yet"})

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.seriesStore.ListSeries(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Series query failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"series query failed"})

		return
	}

	writeJSON(w, http.StatusOK, series)
}

func (s *server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.seriesStore.GetSeries(
		r.Context(),
		chi.URLParam(r, "suite"),
		chi.URLParam(r, "scale"),
		chi.URLParam(r, "case"),
	)
	if err != nil {
		s.log.WithError(err).Error("Series query failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"series query failed"})

		return
	}

	if series == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"series not found"})

		return
	}

	writeJSON(w, http.StatusOK, series)
}

func (s *server) handleMarkdownReport(w http.ResponseWriter, _ *http.Request) {
	markdown, _ := s.getReports()
	if markdown == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{"no report generated yet"})

		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(markdown))
}

func (s *server) handleHTMLReport(w http.ResponseWriter, _ *http.Request) {
	_, html := s.getReports()
	if html == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{"no report generated yet"})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(html))
}

// requestLogger logs each request at debug level with timing.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		next.ServeHTTP(w, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(started).String(),
		}).Debug("Handled request")
	})
}
