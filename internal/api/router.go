// Package api is the thin request boundary over the two pipelines: scan and
// analyze, plus health and metrics. Transport concerns stop here; the
// pipelines never see HTTP.
package api

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/odvcencio/issuelens/internal/analyze"
	"github.com/odvcencio/issuelens/internal/database"
	"github.com/odvcencio/issuelens/internal/ingest"
)

type Server struct {
	store      database.Store
	ingestSvc  *ingest.Coordinator
	analyzeSvc *analyze.Coordinator
	mux        *http.ServeMux
}

func NewServer(store database.Store, ingestSvc *ingest.Coordinator, analyzeSvc *analyze.Coordinator) *Server {
	s := &Server{
		store:      store,
		ingestSvc:  ingestSvc,
		analyzeSvc: analyzeSvc,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := requestIDMiddleware(requestMetricsMiddleware(getDefaultHTTPMetrics(), gzhttp.GzipHandler(s.mux)))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /scan", s.handleScan)
	s.mux.HandleFunc("POST /analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /scan/{owner}/{repo}", s.handleGetScanRecord)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", metricsHandler(nil))
}
