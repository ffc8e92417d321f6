package samplemux

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/httputil"
	"github.com/banshee-data/blerx/internal/monitoring"
	"github.com/banshee-data/blerx/internal/version"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var liveTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/live.html.tmpl"))

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // debug routes are already restricted to local access
	},
}

const wsWriteTimeout = 5 * time.Second

// ErrBadFrame is returned by ParseFrameBytes for a message that is not one whole frame.
var ErrBadFrame = errors.New("malformed frame message")

// FrameBytes flattens a token frame into the byte form sent on the websocket. The
// marker/data tags are dropped: every websocket message carries exactly one frame, so the
// first and last bytes are the markers and everything between them is data, including
// address bytes that equal 'A' or 'B'. Use ParseFrameBytes to decode by position.
func FrameBytes(tokens []ble.Token) []byte {
	out := make([]byte, len(tokens))
	for i, t := range tokens {
		out[i] = t.Value
	}
	return out
}

// ParseFrameBytes decodes one websocket message produced by FrameBytes.
func ParseFrameBytes(msg []byte) (ble.DecodedFrame, error) {
	var f ble.DecodedFrame
	n := len(msg)
	if n < 2 || msg[0] != ble.StartMarker || msg[n-1] != ble.EndMarker {
		return f, fmt.Errorf("%w: % X", ErrBadFrame, msg)
	}
	data := msg[1 : n-1]
	switch len(data) {
	case ble.AddressSize:
	case ble.AddressSize + 2:
		f.HasMeta = true
		f.Length = int(data[ble.AddressSize])
		f.Channel = data[ble.AddressSize+1]
	default:
		return f, fmt.Errorf("%w: %d data bytes", ErrBadFrame, len(data))
	}
	copy(f.Address[:], data[:ble.AddressSize])
	return f, nil
}

func (s *SampleMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Live packet table fed by the tail and stats endpoints below.
	debug.HandleFunc("live", "live advertising packets", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct{ Channel uint8 }{s.opts.Engine.Channel}
		if err := liveTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("live.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/live.js")
		if err != nil {
			http.Error(w, "Failed to open live.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})

	// Server-Sent Events, one JSON event per accepted packet.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					monitoring.Logf("samplemux: encode tail event: %v", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	// Binary websocket carrying exactly one marker-framed message per packet.
	debug.HandleSilentFunc("ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			monitoring.Logf("samplemux: websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Drain client frames so close messages are processed.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "receiver closing"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				msg := FrameBytes(ble.Frame(ev.Record, s.opts.FrameMetadata))
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					return
				}
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleFunc("stats", "engine and fan-out counters (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			Stats
			Version string `json:"version"`
		}{s.Stats(), version.String()})
	})

	if s.metrics != nil {
		debug.Handle("metrics", "Prometheus metrics", s.metrics.Handler())
	}
}
