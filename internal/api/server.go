// Package api serves the JSON, chart and live endpoints around the water
// level pipeline. The MJPEG stream itself is served by the stream package.
package api

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/waterlevel/internal/calibration"
	"github.com/banshee-data/waterlevel/internal/db"
	"github.com/banshee-data/waterlevel/internal/httputil"
	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/version"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// History is the stored level series behind /api/levels and the charts.
type History interface {
	Levels(ctx context.Context, limit int) ([]db.LevelRecord, error)
	LevelsSince(ctx context.Context, since time.Time) ([]db.LevelRecord, error)
	Sessions(ctx context.Context) ([]db.Session, error)
}

// Config wires the server to the running pipeline. Only Cell and Curve are
// required; a nil Video, History or Static disables the matching routes.
type Config struct {
	Cell    *measurement.Cell
	Curve   *calibration.Curve
	Video   http.Handler
	History History
	Static  fs.FS

	// LivePoll is how often a websocket client checks the cell for a new
	// reading (default 250ms).
	LivePoll time.Duration
}

type Server struct {
	cell     *measurement.Cell
	curve    *calibration.Curve
	video    http.Handler
	history  History
	static   fs.FS
	livePoll time.Duration

	statsMu sync.Mutex
	stats   map[string]func() any

	done      chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg Config) *Server {
	poll := cfg.LivePoll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Server{
		cell:     cfg.Cell,
		curve:    cfg.Curve,
		video:    cfg.Video,
		history:  cfg.History,
		static:   cfg.Static,
		livePoll: poll,
		stats:    make(map[string]func() any),
		done:     make(chan struct{}),
	}
}

// Close ends every open websocket. http.Server.Shutdown does not track
// hijacked connections, so register it with RegisterOnShutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// AddStats registers a named counter snapshot shown at /api/stats.
func (s *Server) AddStats(name string, fn func() any) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats[name] = fn
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	if s.video != nil {
		mux.Handle("/video_feed", s.video)
	}
	mux.HandleFunc("/api/level", s.showLevel)
	mux.HandleFunc("/api/calibration", s.showCalibration)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/ws", s.handleLive)
	if s.history != nil {
		mux.HandleFunc("/api/levels", s.listLevels)
		mux.HandleFunc("/api/sessions", s.listSessions)
		mux.HandleFunc("/api/levels.png", s.plotLevels)
		mux.HandleFunc("/charts/levels", s.chartLevels)
	}
	if s.static != nil {
		mux.Handle("/", http.FileServer(http.FS(s.static)))
	}
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the MJPEG stream working through the middleware.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. Long-lived
// stream and websocket requests are logged when they end.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// levelResponse is the body of /api/level and of each websocket message.
type levelResponse struct {
	Available bool      `json:"available"`
	Level     float64   `json:"level,omitempty"`
	Display   string    `json:"display,omitempty"`
	Row       int       `json:"row,omitempty"`
	At        time.Time `json:"at,omitzero"`
}

func currentLevel(cell *measurement.Cell) levelResponse {
	r, ok := cell.Load()
	if !ok {
		return levelResponse{}
	}
	return levelResponse{
		Available: true,
		Level:     r.Level,
		Display:   strconv.FormatFloat(r.Level, 'f', 2, 64) + "m",
		Row:       r.Row,
		At:        r.At,
	}
}

func (s *Server) showLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, currentLevel(s.cell))
}

func (s *Server) showCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	lo, hi := s.curve.Band()
	httputil.WriteJSONOK(w, map[string]any{
		"min_row": lo,
		"max_row": hi,
		"points":  s.curve.Points(),
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	s.statsMu.Lock()
	out := make(map[string]any, len(s.stats)+1)
	for name, fn := range s.stats {
		out[name] = fn()
	}
	s.statsMu.Unlock()

	out["level_updates"] = s.cell.Updates()
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
