package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	modsync "craft-and-carry/modsync"
	servernet "craft-and-carry/modsync/internal/net"
	"craft-and-carry/modsync/internal/net/ws"
	"craft-and-carry/modsync/logging"
	loggingSinks "craft-and-carry/modsync/logging/sinks"
)

type Config struct {
	ConfigPath string
	Logger     *log.Logger
}

// Run hosts a verification session: it loads configuration, stands up the
// logging router and websocket hub, and serves until the listener fails.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	fileCfg, err := modsync.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return err
	}
	if raw := os.Getenv("HANDSHAKE_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			fileCfg.Verification.HandshakeTimeoutSeconds = value
			fileCfg = fileCfg.Normalized()
		} else {
			logger.Printf("invalid HANDSHAKE_TIMEOUT_SECONDS=%q: %v", raw, err)
		}
	}

	logConfig := logging.DefaultConfig()
	if len(fileCfg.Logging.Sinks) > 0 {
		logConfig.EnabledSinks = fileCfg.Logging.Sinks
	}
	if sev, ok := logging.ParseSeverity(fileCfg.Logging.MinSeverity); ok {
		logConfig.MinimumSeverity = sev
	}
	logConfig.JSON.FilePath = fileCfg.Logging.JSONFilePath

	sinks := make([]logging.NamedSink, 0, 2)
	if logConfig.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)})
	}
	if logConfig.HasSink("json") && logConfig.JSON.FilePath != "" {
		file, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open json log: %w", err)
		}
		defer file.Close()
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSONSink(file, logConfig.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	identity := modsync.Identity{
		PeerID:      "host",
		DisplayName: fileCfg.Identity.DisplayName,
		ModName:     fileCfg.Identity.ModName,
		ModVersion:  fileCfg.Identity.ModVersion,
	}
	svc := modsync.NewService(fileCfg, identity, modsync.ServiceOptions{Publisher: router})

	hub := ws.NewHub(svc, logger)
	defer hub.Close()

	svc.StartHosting(hub)
	defer svc.StopHosting()

	handler := servernet.NewHTTPHandler(svc, hub, servernet.HTTPHandlerConfig{Logger: logger})
	srv := &http.Server{Addr: fileCfg.ListenAddr, Handler: handler}
	logger.Printf("mod sync host listening on %s", srv.Addr)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
