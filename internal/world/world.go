package world

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"scenesync.dev/internal/persistence/snapshot"
	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/scene"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SendRateHz         int
	SnapshotEveryTicks int
	MaxUploadMB        int
	AssetsURL          string
}

type JoinRequest struct {
	Name    string
	Builder bool
	Out     chan []byte
	Resp    chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Snapshot protocol.SnapshotMsg
}

// MessageEnvelope is one validated client frame queued for the loop.
type MessageEnvelope struct {
	ParticipantID string
	Type          string
	Raw           []byte
}

// ChangeLogger records every applied or denied scene mutation.
// Implemented in internal/persistence/log.
type ChangeLogger interface {
	WriteChange(entry ChangeEntry) error
}

type ChangeEntry struct {
	Tick   uint64 `json:"tick"`
	Origin string `json:"origin"`
	Action string `json:"action"` // message type, or "disconnect"
	Entity string `json:"entity,omitempty"`
	Blueprint string `json:"blueprint,omitempty"`
	Denied string `json:"denied,omitempty"` // E_* code when dropped
}

// World is the single-threaded authoritative scene.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	log *log.Logger

	tick atomic.Uint64

	entities   *scene.Entities
	blueprints *scene.Blueprints

	clients map[string]*clientState

	inbox chan MessageEnvelope
	join  chan JoinRequest
	leave chan string
	snapReq chan chan uint64
	stop  chan struct{}

	nextParticipantNum atomic.Uint64

	changeLogger ChangeLogger
	snapshotSink chan<- snapshot.SceneV1

	metrics     atomic.Value // WorldMetrics, published at the end of each step
	droppedMsgs atomic.Uint64
}

type clientState struct {
	ID      string
	Name    string
	Builder bool
	Out     chan []byte
}

func New(cfg WorldConfig, logger *log.Logger) *World {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 30
	}
	if cfg.SendRateHz <= 0 || cfg.SendRateHz > cfg.TickRateHz {
		cfg.SendRateHz = cfg.TickRateHz
	}
	w := &World{
		cfg:        cfg,
		log:        logger,
		entities:   scene.NewEntities(),
		blueprints: scene.NewBlueprints(logger),
		clients:    map[string]*clientState{},
		inbox:      make(chan MessageEnvelope, 1024),
		join:       make(chan JoinRequest, 64),
		leave:      make(chan string, 64),
		snapReq:    make(chan chan uint64, 4),
		stop:       make(chan struct{}),
	}
	return w
}

func (w *World) SetChangeLogger(l ChangeLogger)                { w.changeLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SceneV1)    { w.snapshotSink = ch }

func (w *World) Inbox() chan<- MessageEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Leave() chan<- string          { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// RequestSnapshot asks the loop to export a snapshot now. Returns the tick
// the export ran at.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan uint64, 1)
	select {
	case w.snapReq <- resp:
	case <-ctx.Done():
		return w.CurrentTick(), ctx.Err()
	}
	select {
	case tick := <-resp:
		return tick, nil
	case <-ctx.Done():
		return w.CurrentTick(), ctx.Err()
	}
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingMsgs []MessageEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingMsgs = append(pendingMsgs, env)
		case resp := <-w.snapReq:
			w.exportSnapshot()
			resp <- w.tick.Load()
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingMsgs)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingMsgs = pendingMsgs[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// step runs one tick: joins first, then messages in arrival order (the
// loop is the single serialization point for authority claims), leaves
// last so a disconnect observed mid-tick still releases cleanly.
func (w *World) step(joins []JoinRequest, leaves []string, msgs []MessageEnvelope) {
	start := time.Now()
	tick := w.tick.Add(1)

	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, env := range msgs {
		w.handleMessage(tick, env)
	}
	for _, id := range leaves {
		w.handleLeave(tick, id)
	}

	if w.cfg.SnapshotEveryTicks > 0 && tick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		w.exportSnapshot()
	}

	w.metrics.Store(WorldMetrics{
		Tick:       tick,
		Clients:    len(w.clients),
		Entities:   w.entities.Len(),
		Blueprints: w.blueprints.Len(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		DroppedMsgs: w.droppedMsgs.Load(),
	})
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

type WorldMetrics struct {
	Tick        uint64      `json:"tick"`
	Clients     int         `json:"clients"`
	Entities    int         `json:"entities"`
	Blueprints  int         `json:"blueprints"`
	QueueDepths QueueDepths `json:"queue_depths"`
	StepMS      float64     `json:"step_ms"`
	DroppedMsgs uint64      `json:"dropped_msgs"`
}

// Metrics returns the view published by the loop at the end of its last
// step. Safe to call off-loop; counts lag by up to a tick.
func (w *World) Metrics() WorldMetrics {
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) logChange(entry ChangeEntry) {
	if w.changeLogger == nil {
		return
	}
	if err := w.changeLogger.WriteChange(entry); err != nil {
		w.log.Printf("change log: %v", err)
	}
}
