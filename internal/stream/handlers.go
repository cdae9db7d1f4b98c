package stream

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/http"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var viewersTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/viewers.html.tmpl"))

// ServeHTTP streams MJPEG to the client until it disconnects or the stream
// ends.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v := p.Subscribe()
	defer p.Unsubscribe(v.ID())

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		chunk, err := v.Next(r.Context())
		if err != nil {
			// ErrStreamEnded or the client went away.
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// AttachAdminRoutes registers the viewer list under /debug/.
func (p *Publisher) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("MJPEG viewers", func() any { return p.Viewers() })

	debug.HandleFunc("stream-viewers", "connected MJPEG viewers", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct {
			Stats   Stats
			Viewers []ViewerInfo
		}{p.Stats(), p.ViewerList()}
		if err := viewersTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})
}
