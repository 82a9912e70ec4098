package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/bots"
	"channel-emulator/internal/config"
	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/reconfig"
	"channel-emulator/internal/server"
	"channel-emulator/internal/store"
	"channel-emulator/internal/token"
	"channel-emulator/internal/tunnel"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("SETTINGS_FILE"))
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	st := store.NewWithOptions(store.Options{MaxConversations: cfg.MaxConversations})
	tokens := token.NewCache()
	endpoints := endpoint.NewRegistry()
	uiHub := hub.New()

	tunnelManager := tunnel.NewManager(tunnel.ExecLauncher{}, uiHub, hub.EventTunnelState)

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "channel-emulator",
	}

	watcher := config.NewWatcher(config.Settings{
		ListenPort:       cfg.ListenPort,
		TunnelBinaryPath: cfg.TunnelBinaryPath,
	})

	router := server.NewRouter(server.Deps{
		Store:       st,
		Tokens:      tokens,
		Endpoints:   endpoints,
		TokenConfig: tokenCfg,
		Hub:         uiHub,
		TunnelState: tunnelManager.State,
		ServiceURL:  tunnelManager.CurrentPublicURL,
		Settings:    watcher,
		Bots:        bots.NewManager(),
	})

	srv := server.New(router)
	if err := srv.Start(cfg.ListenPort); err != nil {
		log.Fatalf("listen on port %d: %v", cfg.ListenPort, err)
	}
	log.Printf("listening on port %d", srv.Port())

	tunnelManager.Reconfigure(srv.Port(), cfg.TunnelBinaryPath)
	controller := reconfig.NewController(srv, tunnelManager, uiHub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go controller.Run(ctx, watcher.Subscribe())

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	tunnelManager.Stop()
}
