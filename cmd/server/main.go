package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scenesync.dev/internal/assets"
	persistlog "scenesync.dev/internal/persistence/log"
	"scenesync.dev/internal/persistence/snapshot"
	"scenesync.dev/internal/transport/ws"
	"scenesync.dev/internal/tuning"
	"scenesync.dev/internal/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	store, err := assets.OpenLocal(filepath.Join(worldDir, "assets"))
	if err != nil {
		logger.Fatalf("open asset store: %v", err)
	}
	defer store.Close()

	w := world.New(world.WorldConfig{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		SendRateHz:         tune.SendRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		MaxUploadMB:        tune.MaxUploadMB,
		AssetsURL:          "/assets/",
	}, logger)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportScene(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), snap.Header.Tick)
	}

	ctx, cancel := signalContext()
	defer cancel()

	changeLog := persistlog.NewChangeLogger(worldDir)
	defer changeLog.Close()
	w.SetChangeLogger(changeLog)

	// Snapshot writer.
	snapCh := make(chan snapshot.SceneV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP scenesync_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_tick gauge\n")
		fmt.Fprintf(rw, "scenesync_world_tick{world=%q} %d\n", *worldID, m.Tick)

		fmt.Fprintf(rw, "# HELP scenesync_world_clients Current number of connected participants.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_clients gauge\n")
		fmt.Fprintf(rw, "scenesync_world_clients{world=%q} %d\n", *worldID, m.Clients)

		fmt.Fprintf(rw, "# HELP scenesync_world_entities Current entity count.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_entities gauge\n")
		fmt.Fprintf(rw, "scenesync_world_entities{world=%q} %d\n", *worldID, m.Entities)

		fmt.Fprintf(rw, "# HELP scenesync_world_blueprints Current blueprint count.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_blueprints gauge\n")
		fmt.Fprintf(rw, "scenesync_world_blueprints{world=%q} %d\n", *worldID, m.Blueprints)

		fmt.Fprintf(rw, "# HELP scenesync_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "scenesync_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "scenesync_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "scenesync_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP scenesync_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_step_ms gauge\n")
		fmt.Fprintf(rw, "scenesync_world_step_ms{world=%q} %.3f\n", *worldID, m.StepMS)

		fmt.Fprintf(rw, "# HELP scenesync_world_dropped_msgs_total Messages dropped on slow client queues.\n")
		fmt.Fprintf(rw, "# TYPE scenesync_world_dropped_msgs_total counter\n")
		fmt.Fprintf(rw, "scenesync_world_dropped_msgs_total{world=%q} %d\n", *worldID, m.DroppedMsgs)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		tick, err := w.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	})
	mux.Handle("/assets/", assetHandler(store, tune.MaxUploadMB, logger))
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
