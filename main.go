package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfgPath := flag.String("config", "cfg.toml", "Path to server config")
	addr := flag.String("addr", "", "HTTP listen address (default: 0.0.0.0:<cfg port>)")
	flag.Parse()

	cfg, err := LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := InitLogger(cfg.LogFile); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer SyncLogger()

	wmap, err := LoadMap(cfg.Map)
	if err != nil {
		Log.Fatalf("loading map: %v", err)
	}

	var db *DB
	var journal *Journal
	if cfg.Database != "" {
		db, err = OpenDB(cfg.Database)
		if err != nil {
			Log.Fatalf("opening database: %v", err)
		}
		defer db.Close()
		journal = NewJournal(db)
		defer journal.Stop()
	}

	world := NewWorld(cfg, wmap, WithJournal(journal))
	hub := NewHub(world, cfg)
	admin := NewAdmin(world, hub, NewAdminAuth(cfg, db), journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go world.RunTicker(ctx, cfg.TickDuration())
	go world.RunSupervisor(ctx, cfg.PingIntervalDuration())

	if *addr == "" {
		*addr = fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	}
	server := &http.Server{Addr: *addr, Handler: SetupRoutes(hub, admin)}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		Log.Infof("Server starting on %s (map %dx%d, %d spawn points)",
			*addr, wmap.Width, wmap.Height, len(wmap.SpawnPoints))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			Log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	Log.Info("Shutting down...")
	server.Close()
}
