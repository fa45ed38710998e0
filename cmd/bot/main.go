package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	neturl "net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"scenesync.dev/internal/assets"
	"scenesync.dev/internal/builder"
	"scenesync.dev/internal/client"
	"scenesync.dev/internal/scene"
	"scenesync.dev/internal/transport/ws"
	"scenesync.dev/internal/tuning"
	"scenesync.dev/internal/uploader"
)

// A builder bot: joins with the build capability, spawns a blueprint and
// wanders it around with the grab tool. Useful for soak-testing claim
// arbitration with several instances racing over the same scene.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "participant name")
		upload = flag.String("upload", "", "model file to drop into the scene after joining")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, err := ws.Dial(ctx, *url, *name, true)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := client.New(logger)
	c.SetSender(conn.Send)
	b := builder.New(c, tuning.Defaults().Builder, logger)

	// Welcome and snapshot arrive before we act.
	for i := 0; i < 2; i++ {
		select {
		case msg, ok := <-conn.Incoming():
			if !ok {
				logger.Fatalf("connection closed during handshake")
			}
			if err := c.Apply(msg); err != nil {
				logger.Fatalf("apply: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
	logger.Printf("joined participant=%s builder=%v", c.ParticipantID, c.Builder)

	if c.Blueprints.Len() == 0 {
		bp := &scene.Blueprint{ID: uuid.NewString(), Version: 1, Name: "crate", Model: "crate.glb"}
		if err := c.AddBlueprint(bp); err != nil {
			logger.Fatalf("add blueprint: %v", err)
		}
	}
	var blueprintID string
	for _, bp := range c.Blueprints.All() {
		if !bp.Scene {
			blueprintID = bp.ID
			break
		}
	}
	if blueprintID == "" {
		logger.Fatalf("no usable blueprint in snapshot")
	}

	up := uploader.New(c, assets.NewHTTPStore(assetsBase(*url, c.AssetsURL)), logger)
	if *upload != "" {
		data, err := os.ReadFile(*upload)
		if err != nil {
			logger.Fatalf("read %s: %v", *upload, err)
		}
		at := scene.Transform{Position: scene.Vec3{0, 0, 5}, Quaternion: scene.IdentityQuat(), Scale: scene.Vec3{1, 1, 1}}
		id, err := up.Add(ctx, filepath.Base(*upload), data, at)
		if err != nil {
			logger.Fatalf("upload: %v", err)
		}
		logger.Printf("uploading entity=%s file=%s", id, *upload)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tickRate := c.TickRateHz
	if tickRate <= 0 {
		tickRate = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Incoming():
			if !ok {
				return
			}
			if err := c.Apply(msg); err != nil {
				logger.Printf("apply: %v", err)
			}
		case r := <-up.Results():
			if err := up.Resolve(r); err != nil {
				logger.Printf("upload failed: %v", err)
			} else {
				logger.Printf("upload landed entity=%s asset=%s", r.EntityID, r.Asset)
			}
		case <-ticker.C:
			tick++
			step(b, c, blueprintID, rng, tick, logger)
		}
	}
}

// assetsBase resolves the advertised asset path against the ws endpoint
// when the server hands out a relative URL.
func assetsBase(wsURL, assetsURL string) string {
	if strings.HasPrefix(assetsURL, "http://") || strings.HasPrefix(assetsURL, "https://") {
		return assetsURL
	}
	u, err := neturl.Parse(wsURL)
	if err != nil {
		return assetsURL
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + assetsURL
}

func step(b *builder.Builder, c *client.Client, blueprintID string, rng *rand.Rand, tick uint64, logger *log.Logger) {
	switch {
	case b.Selected() == "" && tick%60 == 1:
		// Either pick up an existing free entity or spawn a fresh one.
		for _, e := range c.Entities.All() {
			if e.Mover == "" && e.Uploader == "" && !e.Pinned {
				if err := b.Select(e.ID); err == nil && b.Selected() != "" {
					logger.Printf("selected entity=%s", e.ID)
					return
				}
			}
		}
		id, err := b.Spawn(blueprintID)
		if err != nil {
			logger.Printf("spawn: %v", err)
			return
		}
		logger.Printf("spawned entity=%s", id)

	case b.Selected() != "" && tick%60 == 30:
		if err := b.Deselect(); err != nil {
			logger.Printf("deselect: %v", err)
		}

	default:
		b.SetPointerRay(scene.Ray{
			Origin: scene.Vec3{rng.Float64()*20 - 10, 2, rng.Float64()*20 - 10},
			Dir:    scene.Vec3{0, 0, 1},
		})
		if rng.Intn(30) == 0 {
			b.ScrollRotate(15)
		}
		if err := b.Tick(); err != nil {
			logger.Printf("tick: %v", err)
		}
	}
}
