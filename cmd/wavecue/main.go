package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/wavecue/internal/audio"
	"github.com/satindergrewal/wavecue/internal/config"
	"github.com/satindergrewal/wavecue/internal/engine"
	"github.com/satindergrewal/wavecue/internal/live"
	"github.com/satindergrewal/wavecue/internal/stream"
	"github.com/satindergrewal/wavecue/internal/transport"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("wavecue starting up...")

	// Live session bridge
	bridge, err := live.NewBridge(cfg.BridgeHost, cfg.BridgePort, fmt.Sprintf(":%d", cfg.ListenPort), cfg.BridgeTimeout)
	if err != nil {
		log.Fatalf("Session bridge: %v", err)
	}
	defer bridge.Close()
	go func() {
		if err := bridge.Run(ctx); err != nil {
			log.Printf("Session bridge stopped: %v", err)
			cancel()
		}
	}()

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	err = bridge.WaitForReady(readyCtx)
	readyCancel()
	if err != nil {
		log.Fatalf("Session not available: %v", err)
	}

	// Waveform display, mirrored to preview listeners
	display, err := transport.NewOSC(cfg.DisplayHost, cfg.DisplayPort, cfg.DisplayAddress, cfg.SendRetries)
	if err != nil {
		log.Fatalf("Display: %v", err)
	}
	broadcaster := stream.NewBroadcaster()
	sender := transport.Tee(display, broadcaster)

	store := audio.NewStore()
	eng := engine.New(bridge, store, sender, engine.Config{
		DynamicsPrefix: cfg.DynamicsPrefix,
		SectionsPrefix: cfg.SectionsPrefix,
		Resolution:     cfg.Resolution,
		DecodeWorkers:  cfg.DecodeWorkers,
	})

	if cfg.HTTPPort != 0 {
		webrtcHandler := stream.NewWebRTCHandler(broadcaster)

		mux := http.NewServeMux()
		mux.Handle("/events", stream.NewHTTPHandler(broadcaster))
		mux.Handle("/offer", webrtcHandler)
		mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
			st := eng.Status()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			json.NewEncoder(w).Encode(map[string]any{
				"active_song":      st.ActiveSong,
				"position":         st.Position,
				"songs":            st.Songs,
				"sections":         st.Sections,
				"clips":            st.Clips,
				"rebuilding":       st.Rebuilding,
				"decoded_sources":  store.Len(),
				"cached_sections":  broadcaster.SectionCount(),
				"http_listeners":   broadcaster.ListenerCount(),
				"webrtc_listeners": webrtcHandler.PeerCount(),
				"config": map[string]any{
					"resolution":      cfg.Resolution,
					"dynamics_prefix": cfg.DynamicsPrefix,
					"sections_prefix": cfg.SectionsPrefix,
					"display":         fmt.Sprintf("%s:%d%s", cfg.DisplayHost, cfg.DisplayPort, cfg.DisplayAddress),
				},
			})
		})

		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-ctx.Done()
			server.Close()
		}()
		go func() {
			log.Printf("Preview server on %s", addr)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	log.Printf("wavecue live: bridge %s:%d, display %s:%d", cfg.BridgeHost, cfg.BridgePort, cfg.DisplayHost, cfg.DisplayPort)
	if err := eng.Run(ctx); err != nil {
		log.Fatalf("Engine: %v", err)
	}
	log.Println("Shutting down...")
}
