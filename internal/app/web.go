package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/link"
	"github.com/relabs-tech/glove_capture/internal/metrics"
	"github.com/relabs-tech/glove_capture/internal/series"
	"github.com/relabs-tech/glove_capture/internal/store"
)

// LinkControl is the operator side of the link session.
type LinkControl interface {
	Connect() error
	Disconnect() error
	State() link.State
	Err() error
}

// SubjectIndex lists the stored sessions of a subject.
type SubjectIndex interface {
	ListBySubject(ctx context.Context, subjectID string) ([]store.SessionSummary, error)
}

// Server is the HTTP control surface of the capture station.
type Server struct {
	router    *mux.Router
	link      LinkControl
	session   *capture.Session
	series    *series.Store
	subjects  SubjectIndex
	staticDir string
}

func NewServer(lc LinkControl, sess *capture.Session, st *series.Store, subjects SubjectIndex, staticDir string) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		link:      lc,
		session:   sess,
		series:    st,
		subjects:  subjects,
		staticDir: staticDir,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(instrument)

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/ws/live", s.liveHandler)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/link", s.linkStatusHandler).Methods("GET")
	api.HandleFunc("/link/connect", s.linkConnectHandler).Methods("POST")
	api.HandleFunc("/link/disconnect", s.linkDisconnectHandler).Methods("POST")
	api.HandleFunc("/session", s.sessionStatusHandler).Methods("GET")
	api.HandleFunc("/session/{action:start|pause|resume|stop|cancel|reset}", s.sessionActionHandler).Methods("POST")
	api.HandleFunc("/series", s.seriesHandler).Methods("GET")
	api.HandleFunc("/subjects/{id}/results", s.subjectResultsHandler).Methods("GET")

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Println("web: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web: graceful shutdown failed: %v", err)
		}
		close(done)
	}()

	log.Printf("web: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	<-done
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type linkStatus struct {
	State     string `json:"state"`
	Streaming bool   `json:"streaming"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) linkStatus() linkStatus {
	st := s.link.State()
	ls := linkStatus{State: st.String(), Streaming: st == link.Streaming}
	if err := s.link.Err(); err != nil {
		ls.Error = err.Error()
	}
	return ls
}

func (s *Server) linkStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) linkConnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.link.Connect(); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, link.ErrAlreadyConnected) {
			code = http.StatusConflict
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.linkStatus())
}

func (s *Server) linkDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.link.Disconnect(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) sessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) sessionActionHandler(w http.ResponseWriter, r *http.Request) {
	if err := sessionAction(s.session, mux.Vars(r)["action"]); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, capture.ErrInvalidState) {
			code = http.StatusConflict
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

// sessionAction applies one operator action to the session.
func sessionAction(sess *capture.Session, action string) error {
	switch action {
	case "start":
		return sess.Start()
	case "pause":
		return sess.Pause()
	case "resume":
		return sess.Resume()
	case "stop":
		return sess.Stop()
	case "cancel":
		sess.Cancel()
	case "reset":
		sess.Reset()
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

// seriesHandler returns the filtered series. ?group=flex|fsr|imu narrows it
// to one sensor group, ?last=N to the newest N points per channel.
func (s *Server) seriesHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.series.Snapshot()

	channels := allChannels()
	switch g := r.URL.Query().Get("group"); g {
	case "":
	case "flex":
		channels = glove.FlexChannels
	case "fsr":
		channels = glove.FSRChannels
	case "imu":
		channels = glove.IMUBioChannels
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown group %q", g))
		return
	}

	last := 0
	if v := r.URL.Query().Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid last %q", v))
			return
		}
		last = n
	}

	out := make(map[string][]series.Point, len(channels))
	for i, pts := range snap.Group(channels) {
		if last > 0 && len(pts) > last {
			pts = pts[len(pts)-last:]
		}
		out[glove.ChannelNames[channels[i]]] = pts
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  snap.Version,
		"samples":  snap.Samples,
		"channels": out,
	})
}

func (s *Server) subjectResultsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	list, err := s.subjects.ListBySubject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func allChannels() []int {
	out := make([]int, glove.NumChannels)
	for i := range out {
		out[i] = i
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// instrument records request count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
