// Package endpoints serves a process's health and stats over http, plus any
// extra JSON resources the process registers.
package endpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/common/stats"
)

func NewAdminServer(addr string, stat stats.StatsReceiver) *AdminServer {
	s := &AdminServer{
		Addr:  addr,
		Stats: stat,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("/", helpHandler)
	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	return s
}

type AdminServer struct {
	Addr  string
	Stats stats.StatsReceiver
	mux   *http.ServeMux

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

// AddJSON serves whatever fn returns, as JSON, at path.
func (s *AdminServer) AddJSON(path string, fn func() interface{}) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		if r.URL.Query().Get("pretty") == "true" {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(fn()); err != nil {
			http.Error(w, err.Error(), 500)
		}
	})
}

func (s *AdminServer) Handler() http.Handler {
	return s.mux
}

// Serve listens on Addr and blocks until Close.
func (s *AdminServer) Serve() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.srv = &http.Server{Handler: s.mux}
	srv := s.srv
	s.mu.Unlock()

	log.WithField("addr", ln.Addr().String()).Info("Serving http & stats")
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/admin/limits.json', '/admin/queue.json'", 501)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	const contentTypeHdr = "Content-Type"
	const contentTypeVal = "application/json; charset=utf-8"
	w.Header().Set(contentTypeHdr, contentTypeVal)

	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}
