package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/capture"
	"github.com/banshee-data/blerx/internal/db"
	"github.com/banshee-data/blerx/internal/publish"
	"github.com/banshee-data/blerx/internal/samplemux"
)

// recorder fans a decoded packet out to the optional store, capture file and broker.
type recorder struct {
	logger    *log.Logger
	db        *db.DB
	session   db.Session
	capture   *capture.Writer
	publisher *publish.Publisher
	handled   int
}

// Handle records ev everywhere that is enabled. Failures are logged and do not stop the
// remaining outputs.
func (r *recorder) Handle(ev samplemux.Event) {
	r.handled++
	rec := ev.Record
	r.logger.Debug("packet", "addr", rec.Address, "pdu", rec.PDUType, "len", rec.Length, "sample", rec.SampleIndex)

	if r.db != nil {
		if err := r.db.RecordSighting(r.session.ID, rec, ev.Time); err != nil {
			r.logger.Error("failed to record sighting", "err", err)
		}
	}
	if r.capture != nil {
		if err := r.capture.WriteRecord(rec, ev.Time); err != nil {
			r.logger.Error("failed to capture packet", "err", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(rec, ev.Time); err != nil {
			r.logger.Warn("failed to publish packet", "err", err)
		}
	}
}

// Close ends the session and closes every output.
func (r *recorder) Close() {
	if r.publisher != nil {
		r.publisher.Close()
	}
	if r.capture != nil {
		if err := r.capture.Close(); err != nil {
			r.logger.Error("failed to close capture", "err", err)
		}
	}
	if r.db != nil {
		if r.session.ID != uuid.Nil {
			if err := r.db.EndSession(r.session.ID, time.Now()); err != nil {
				r.logger.Error("failed to end session", "err", err)
			}
		}
		r.db.Close()
	}
}

// openTokenOutput opens path for the token stream; "-" is stdout.
func openTokenOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create token output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// writeTokens prints one line per frame: the markers verbatim and the value tokens as hex.
// On cancellation the tokens already queued are still written.
func writeTokens(ctx context.Context, w io.Writer, tokens <-chan ble.Token) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case t, ok := <-tokens:
					if !ok {
						return nil
					}
					if err := writeToken(bw, t); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case t, ok := <-tokens:
			if !ok {
				return nil
			}
			if err := writeToken(bw, t); err != nil {
				return err
			}
		}
	}
}

func writeToken(bw *bufio.Writer, t ble.Token) error {
	var err error
	switch {
	case t.Marker && t.Value == ble.EndMarker:
		if _, err = fmt.Fprintf(bw, " %c\n", t.Value); err == nil {
			err = bw.Flush()
		}
	case t.Marker:
		_, err = fmt.Fprintf(bw, "%c", t.Value)
	default:
		_, err = fmt.Fprintf(bw, " %02X", t.Value)
	}
	return err
}
