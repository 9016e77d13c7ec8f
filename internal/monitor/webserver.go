// Package monitor serves the current heart rate, recent batch history and
// debug charts over HTTP.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/timeutil"
	"github.com/banshee-data/pulse.report/internal/version"
)

// RateSource is the read side of a pulse.Processor.
type RateSource interface {
	Rate() int
	State() pulse.State
	Trace() pulse.Trace
}

// AdminRouter attaches extra /debug/ routes, such as the serial console.
type AdminRouter interface {
	AttachAdminRoutes(*http.ServeMux)
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	Source    RateSource
	History   *History
	Metrics   http.Handler // served at /metrics when set
	Admin     []AdminRouter
	Clock     timeutil.Clock
	SessionID string // generated when empty
	Port      string // device path, reported on /debug/
}

// WebServer exposes the estimator state over HTTP.
type WebServer struct {
	address   string
	source    RateSource
	history   *History
	metrics   http.Handler
	admin     []AdminRouter
	clock     timeutil.Clock
	sessionID string
	port      string
	started   time.Time
	server    *http.Server
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		source:    config.Source,
		history:   config.History,
		metrics:   config.Metrics,
		admin:     config.Admin,
		clock:     config.Clock,
		sessionID: config.SessionID,
		port:      config.Port,
	}
	if ws.clock == nil {
		ws.clock = timeutil.RealClock{}
	}
	if ws.history == nil {
		ws.history = NewHistory(DefaultHistorySize)
	}
	if ws.sessionID == "" {
		ws.sessionID = uuid.NewString()
	}
	ws.started = ws.clock.Now()

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// SessionID identifies this process run in API responses.
func (ws *WebServer) SessionID() string { return ws.sessionID }

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until ctx is cancelled, then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Handler returns the route table. Debug routes are only reachable from
// loopback or the tailnet.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/rate", ws.handleRate)
	mux.HandleFunc("/api/trace", ws.handleTrace)
	mux.HandleFunc("/api/history", ws.handleHistory)
	if ws.metrics != nil {
		mux.Handle("/metrics", ws.metrics)
	}

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KV("Session", ws.sessionID)
	if ws.port != "" {
		debug.KV("Device", ws.port)
	}
	debug.KVFunc("Rate (bpm)", func() any { return ws.source.Rate() })
	debug.KVFunc("State", func() any { return ws.source.State().String() })
	debug.KVFunc("Batches", func() any { return ws.history.Len() })
	debug.KVFunc("Samples", func() any {
		accepted, rejected := ws.history.Samples()
		return fmt.Sprintf("%d accepted, %d rejected", accepted, rejected)
	})
	debug.KVFunc("Last batch", func() any {
		e, ok := ws.history.Last()
		if !ok {
			return "none"
		}
		if e.Skipped {
			return fmt.Sprintf("#%d skipped", e.Seq)
		}
		return fmt.Sprintf("#%d %s/%s/%s, %d peaks", e.Seq, e.Filter, e.Detection, e.Rate, e.Peaks)
	})
	debug.HandleFunc("rate-chart", "Heart rate per batch", ws.handleRateChart)
	debug.HandleFunc("trace.png", "Filtered window of the last batch", ws.handleTracePlot)

	for _, a := range ws.admin {
		a.AttachAdminRoutes(mux)
	}
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "pulse",
		"version":   version.Version,
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

type rateResponse struct {
	Session   string     `json:"session"`
	BPM       int        `json:"bpm"`
	State     string     `json:"state"`
	Batches   int        `json:"batches"`
	Uptime    string     `json:"uptime"`
	UpdatedAt *time.Time `json:"updated_at"`
}

func (ws *WebServer) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := rateResponse{
		Session: ws.sessionID,
		BPM:     ws.source.Rate(),
		State:   ws.source.State().String(),
		Batches: ws.history.Len(),
		Uptime:  ws.clock.Since(ws.started).Truncate(time.Second).String(),
	}
	if t := ws.history.LastUpdate(); !t.IsZero() {
		resp.UpdatedAt = &t
	}
	ws.writeJSON(w, http.StatusOK, resp)
}

type traceResponse struct {
	Session    string            `json:"session"`
	Seq        uint64            `json:"seq"`
	Time       time.Time         `json:"time"`
	BPM        int               `json:"bpm"`
	Raw        []pulse.RawSample `json:"raw"`
	Detrended  []float64         `json:"detrended"`
	Filtered   []float64         `json:"filtered"`
	Peaks      []int             `json:"peaks"`
	Height     float64           `json:"height"`
	Prominence float64           `json:"prominence"`
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tr := ws.source.Trace()
	if tr.Seq == 0 {
		ws.writeJSONError(w, http.StatusNotFound, ErrNoTrace.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, traceResponse{
		Session:    ws.sessionID,
		Seq:        tr.Seq,
		Time:       tr.Time,
		BPM:        tr.BPM,
		Raw:        tr.Raw,
		Detrended:  tr.Baseline,
		Filtered:   tr.Filtered,
		Peaks:      tr.Peaks,
		Height:     tr.Height,
		Prominence: tr.Prominence,
	})
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]any{
		"session": ws.sessionID,
		"batches": ws.history.Entries(),
	})
}

func (ws *WebServer) handleRateChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := RenderRateChart(&buf, ws.history.Entries()); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleTracePlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := RenderTrace(&buf, ws.source.Trace(), TraceWidth, TraceHeight)
	if errors.Is(err, ErrNoTrace) {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}
