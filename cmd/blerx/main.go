package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/capture"
	"github.com/banshee-data/blerx/internal/config"
	"github.com/banshee-data/blerx/internal/db"
	"github.com/banshee-data/blerx/internal/monitoring"
	"github.com/banshee-data/blerx/internal/publish"
	"github.com/banshee-data/blerx/internal/samplemux"
	"github.com/banshee-data/blerx/internal/version"
)

var (
	configPath  = pflag.StringP("config", "c", "", "Receiver config file (.yaml, .yml or .json)")
	devMode     = pflag.Bool("dev", false, "Use a synthetic sample source instead of hardware")
	listen      = pflag.String("listen", "", "Debug HTTP listen address")
	port        = pflag.StringP("port", "p", "", "Serial port of the sample front-end")
	sampleFile  = pflag.StringP("file", "f", "", "Read samples from a recording (.zst is decompressed)")
	loop        = pflag.Bool("loop", false, "Replay the recording forever")
	channel     = pflag.Int("channel", 0, "Advertising channel used for dewhitening (37, 38 or 39)")
	extended    = pflag.Bool("extended", false, "Decode 8-bit payload lengths")
	dbPath      = pflag.String("db", "", "SQLite sighting store path (empty disables)")
	capturePath = pflag.String("capture", "", "pcap capture path, strftime pattern; .gz compresses")
	mqttBroker  = pflag.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	tokensOut   = pflag.String("tokens", "", "Write the framed token stream to this file ('-' for stdout)")
	logLevel    = pflag.String("log-level", "", "Log level: debug, info, warn, error")
	debug       = pflag.BoolP("debug", "d", false, "Log every candidate the engine examines")
	showVersion = pflag.BoolP("version", "V", false, "Print version and exit")
)

// loadConfig reads the config file, when given, and applies any flags set on the command
// line on top of it.
func loadConfig(fs *pflag.FlagSet) (*config.ReceiverConfig, error) {
	cfg := config.EmptyReceiverConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadReceiverConfig(*configPath); err != nil {
			return nil, err
		}
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("port", func() { cfg.SerialPort = port })
	set("file", func() {
		cfg.SampleFile = sampleFile
		src := config.SourceFile
		cfg.Source = &src
	})
	set("loop", func() { cfg.Loop = loop })
	set("channel", func() { cfg.Channel = channel })
	set("extended", func() {
		mode := ble.LengthBasic.String()
		if *extended {
			mode = ble.LengthExtended.String()
		}
		cfg.LengthMode = &mode
	})
	set("db", func() { cfg.DBPath = dbPath })
	set("capture", func() { cfg.CapturePath = capturePath })
	set("mqtt", func() { cfg.MQTTBroker = mqttBroker })
	set("listen", func() { cfg.Listen = listen })
	set("log-level", func() { cfg.LogLevel = logLevel })
	set("debug", func() { cfg.Debug = debug })
	if *devMode {
		src := config.SourceMock
		cfg.Source = &src
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "blerx",
		Level:           lvl,
	})
	return logger, nil
}

// openSource opens the sample source selected by the config.
func openSource(cfg *config.ReceiverConfig) (samplemux.SampleSource, error) {
	switch cfg.GetSource() {
	case config.SourceFile:
		return samplemux.OpenFileSource(cfg.GetSampleFile(), cfg.GetLoop())
	case config.SourceMock:
		burst, err := samplemux.SynthesizeBurst(demoPackets(), 4000, 256, 0)
		if err != nil {
			return nil, err
		}
		return samplemux.NewMockSource(burst, 100*time.Millisecond, nil), nil
	default:
		return samplemux.OpenSerialSource(cfg.GetSerialPort(), samplemux.PortOptions{BaudRate: cfg.GetBaudRate()})
	}
}

// demoPackets is the advertising traffic replayed in dev mode.
func demoPackets() []ble.AdvPacket {
	name := func(s string) []byte { return append([]byte{byte(1 + len(s)), 0x09}, s...) }
	flags := []byte{0x02, 0x01, 0x06}
	return []ble.AdvPacket{
		{Type: ble.PDUAdvInd, TxAdd: true, Address: ble.Address{0xC0, 0xFF, 0xEE, 0x00, 0x00, 0x01},
			Data: append(append([]byte{}, flags...), name("blerx-demo")...), Channel: ble.AdvChannel},
		{Type: ble.PDUAdvNonconnInd, Address: ble.Address{0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13},
			Data: []byte{0x1A, 0xFF, 0x4C, 0x00, 0x02, 0x15, 0xE2, 0xC5, 0x6D, 0xB5, 0xDF, 0xFB, 0x48, 0xD2,
				0xB0, 0x60, 0xD0, 0xF5, 0xA7, 0x10, 0x96, 0xE0, 0x00, 0x01, 0x00, 0x02, 0xC5},
			Channel: ble.AdvChannel},
		{Type: ble.PDUScanRsp, TxAdd: true, Address: ble.Address{0xC0, 0xFF, 0xEE, 0x00, 0x00, 0x01},
			Data: name("blerx scan response"), Channel: ble.AdvChannel},
	}
}

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: blerx [options]\n\nReceive BLE advertising packets from a demodulated sample stream.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Printf("blerx %s\n", version.String())
		return
	}

	cfg, err := loadConfig(pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blerx: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.GetLogLevel())
	if err != nil {
		fmt.Fprintf(os.Stderr, "blerx: %v\n", err)
		os.Exit(2)
	}
	monitoring.SetLogger(logger.Infof)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("receiver stopped", "err", err)
	}
	logger.Info("graceful shutdown complete")
}

func run(cfg *config.ReceiverConfig, logger *log.Logger) error {
	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	src, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("open sample source: %w", err)
	}

	metrics := monitoring.NewMetrics()
	muxOpts := samplemux.Options{
		Engine:           engineOpts,
		ReadSize:         cfg.GetReadSize(),
		FrameMetadata:    cfg.GetFrameMetadata(),
		SubscriberBuffer: 4096,
		Metrics:          metrics,
	}
	if *tokensOut != "" {
		muxOpts.TokenQueue = cfg.GetTokenQueue()
	}
	mux, err := samplemux.NewSampleMux(src, muxOpts)
	if err != nil {
		src.Close()
		return err
	}
	defer mux.Close()

	rec := &recorder{logger: logger}
	defer rec.Close()

	if path := cfg.GetDBPath(); path != "" {
		if rec.db, err = db.NewDB(path); err != nil {
			return fmt.Errorf("open sighting store: %w", err)
		}
		if rec.session, err = rec.db.StartSession(cfg.GetSource(), engineOpts.Channel, time.Now()); err != nil {
			return err
		}
		logger.Info("sighting store ready", "path", path, "session", rec.session.ID)
	}
	if pattern := cfg.GetCapturePath(); pattern != "" {
		w, path, err := capture.Open(pattern, time.Now())
		if err != nil {
			return err
		}
		rec.capture = w
		logger.Info("capturing packets", "path", path)
	}
	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:      broker,
			TopicPrefix: cfg.GetMQTTTopicPrefix(),
			ClientID:    cfg.GetMQTTClientID(),
		})
		if err != nil {
			return err
		}
		rec.publisher = pub
	}

	var tokenOut io.Writer
	if mux.Tokens() != nil {
		out, closeOut, err := openTokenOutput(*tokensOut)
		if err != nil {
			return err
		}
		defer closeOut()
		tokenOut = out
	}

	if err := mux.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize receiver: %w", err)
	}
	logger.Info("receiver started", "version", version.Version, "source", cfg.GetSource(),
		"channel", engineOpts.Channel, "ring", engineOpts.RingCapacity)

	// Create a wait group for the HTTP server, sample monitor, and event handler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// subscribe before monitoring starts so no packet is missed
	id, events := mux.Subscribe()
	monitorErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mux.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			monitorErr <- err
		}
		logger.Info("monitor routine terminated")
		// A finished recording ends the run.
		stop()
	}()

	// hand decoded packets to the recorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer mux.Unsubscribe(id)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				rec.Handle(ev)
			case <-ctx.Done():
				// keep what was decoded before shutdown
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return
						}
						rec.Handle(ev)
					default:
						logger.Info("subscribe routine terminated")
						return
					}
				}
			}
		}
	}()

	if tokens := mux.Tokens(); tokens != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writeTokens(ctx, tokenOut, tokens.Tokens()); err != nil {
				logger.Error("token stream", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logStats(ctx, logger, mux, cfg.GetStatsInterval())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, logger, cfg.GetListen(), mux, rec.db)
	}()

	wg.Wait()
	select {
	case err := <-monitorErr:
		return err
	default:
		return nil
	}
}

func logStats(ctx context.Context, logger *log.Logger, mux *samplemux.SampleMux[samplemux.SampleSource], interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var prev ble.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := mux.Stats()
			d := st.Engine.Sub(prev)
			prev = st.Engine
			logger.Info("stats",
				"samples", d.Samples, "preambles", d.Preambles, "accepted", d.Accepted,
				"crc_failures", d.CRCFailures, "address_rejects", d.AddressRejects,
				"amp_mean", st.Amplitude.Mean, "subscribers", st.Subscribers, "dropped", st.Dropped)
		}
	}
}

func serveHTTP(ctx context.Context, logger *log.Logger, addr string, mux *samplemux.SampleMux[samplemux.SampleSource], store *db.DB) {
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	if store != nil {
		if err := store.AttachAdminRoutes(httpMux); err != nil {
			logger.Error("db admin routes", "err", err)
		}
	}
	httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/debug/live", http.StatusFound)
	})

	server := &http.Server{
		Addr:     addr,
		Handler:  httpMux,
		ErrorLog: logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}
	go func() {
		logger.Info("debug server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
		if err := server.Close(); err != nil {
			logger.Warn("HTTP server force close error", "err", err)
		}
	}
	logger.Info("HTTP server routine stopped")
}
