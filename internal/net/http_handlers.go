package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	modsync "craft-and-carry/modsync"
	"craft-and-carry/modsync/internal/net/ws"
)

type HTTPHandlerConfig struct {
	Logger *log.Logger
}

// NewHTTPHandler wires the hosting endpoints: a health probe, a diagnostics
// view over the verification service, and the websocket attach point.
func NewHTTPHandler(svc *modsync.Service, hub *ws.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		reason := ""
		if cause := svc.GetLockReason(); cause != nil {
			reason = *cause
		}
		status := svc.HostStatus()
		payload := struct {
			Status           string                    `json:"status"`
			ServerTime       int64                     `json:"serverTime"`
			Role             int                       `json:"role"`
			ModAllowed       bool                      `json:"modAllowed"`
			LockReason       string                    `json:"lockReason,omitempty"`
			Unverified       int64                     `json:"unverifiedPeers"`
			LockedContainers int                       `json:"lockedContainers"`
			Telemetry        modsync.TelemetrySnapshot `json:"telemetry"`
		}{
			Status:           "ok",
			ServerTime:       time.Now().UnixMilli(),
			Role:             int(svc.Role()),
			ModAllowed:       svc.IsModAllowed(),
			LockReason:       reason,
			Unverified:       status.Unverified,
			LockedContainers: svc.LockedContainers(),
			Telemetry:        svc.TelemetrySnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws", hub.Handle)

	return mux
}
