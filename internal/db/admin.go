package db

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/klauspost/compress/gzip"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/blerx/internal/httputil"
	"github.com/banshee-data/blerx/internal/monitoring"
)

const maxDevicesCharted = 40

// AttachAdminRoutes mounts the database debug endpoints under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://blerx.db", db.DB, &tailsql.DBOptions{
		Label: "Sightings DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("sightings", "most recent sightings (JSON, ?limit=)", func(w http.ResponseWriter, r *http.Request) {
		limit, err := httputil.QueryLimit(r, 100, 10000)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		sightings, err := db.RecentSightings(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, sightings)
	})

	debug.HandleFunc("devices", "sightings per device (chart, ?window=)", db.handleDevicesChart)

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

// handleDevicesChart renders a bar chart of sightings per address over the requested
// window (default one hour).
func (db *DB) handleDevicesChart(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, fmt.Sprintf("invalid window %q", v), http.StatusBadRequest)
			return
		}
		window = d
	}

	devices, err := db.DeviceSummaries(time.Now().Add(-window))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(devices) > maxDevicesCharted {
		devices = devices[:maxDevicesCharted]
	}

	x := make([]string, 0, len(devices))
	y := make([]opts.BarData, 0, len(devices))
	for _, d := range devices {
		label := d.Address.String()
		if d.LocalName != "" {
			label = fmt.Sprintf("%s (%s)", d.LocalName, label)
		}
		x = append(x, label)
		y = append(y, opts.BarData{Value: d.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "blerx devices", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sightings per device", Subtitle: fmt.Sprintf("last %s, %d devices", window, len(devices))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45}}),
	)
	bar.SetXAxis(x).
		AddSeries("sightings", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupName := fmt.Sprintf("blerx-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), backupName)
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("db: remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupName))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("db: stream backup: %v", err)
	}
}
