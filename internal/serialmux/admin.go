package serialmux

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminFS embed.FS

var consoleTemplate = template.Must(template.ParseFS(adminFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes registers the serial console on mux:
//
//	/debug/send-command      HTML console
//	/debug/send-command-api  POST command=<text>, written to the device
//	/debug/tail              server-sent events, one per device line
//	/debug/tail.js           console script
//
// The debug index also lists the subscriber count and dropped lines.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Serial subscribers", func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subscribers)
	})
	debug.KVFunc("Serial lines dropped", func() any { return s.Dropped() })

	debug.HandleFunc("send-command", "send a command to the sensor board", s.serveConsole)
	debug.HandleSilentFunc("send-command-api", s.serveSendCommand)
	debug.HandleSilentFunc("tail", s.serveTail)
	debug.HandleSilentFunc("tail.js", serveTailScript)
}

func (s *SerialMux[T]) serveConsole(w http.ResponseWriter, r *http.Request) {
	var page strings.Builder
	if err := consoleTemplate.Execute(&page, nil); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, page.String())
}

func (s *SerialMux[T]) serveSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to serial port", command)
}

// serveTail streams device lines as server-sent events until the client goes
// away or the mux is closed.
func (s *SerialMux[T]) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func serveTailScript(w http.ResponseWriter, r *http.Request) {
	script, err := fs.ReadFile(adminFS, "templates/tail.js")
	if err != nil {
		http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(script)
}
