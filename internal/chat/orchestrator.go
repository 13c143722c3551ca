// Package chat implements the client-side orchestration core: one state
// machine composing connection health, model and session exclusivity,
// asset uploads, transcription, and the streaming generation protocol.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/config"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// phase is the turn state machine. The success path is
// idle -> sending -> streaming -> confirming -> idle; the error path
// returns to idle directly, skipping confirmation.
type phase int

const (
	phaseIdle phase = iota
	phaseSending
	phaseStreaming
	phaseConfirming
)

// turnState tracks the single in-flight generation.
type turnState struct {
	id          string
	assistantID string
	userText    string
	imagePaths  []string
}

// Orchestrator is the single source of truth consumed by the interface.
// All mutation happens under mu; long-running work runs in goroutines
// that re-enter through the apply methods.
type Orchestrator struct {
	client *backend.Client
	cfg    *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan Event

	mu sync.Mutex

	// connection
	connected bool
	connErr   string
	modelInfo *domain.ModelInfo

	// models
	models       []domain.ModelDescriptor
	currentModel string
	switching    bool

	// sessions
	sessions  []domain.Session
	sessionID string

	// conversation log: the slice is the arena, msgIndex maps id to slot
	messages []domain.Message
	msgIndex map[string]int

	// assets: arena keyed by id plus insertion order
	assets     map[string]*domain.Asset
	assetOrder []string

	// turn state machine and the orthogonal transcription lock
	phase            phase
	turn             *turnState
	transcribing     bool
	transcribeCancel context.CancelFunc
	transcribeAsset  string

	lastError string
}

// New creates an orchestrator. Call Start to begin health polling and
// Close to stop all background work.
func New(client *backend.Client, cfg *config.Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		client:   client,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, 256),
		msgIndex: make(map[string]int),
		assets:   make(map[string]*domain.Asset),
	}
}

// Start launches the connection monitor.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.monitorLoop()
}

// Events returns the channel of orchestrator events. The channel is
// closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Close cancels all background work, waits for it to finish, and closes
// the event channel.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
	close(o.events)
}

// Snapshot is an immutable copy of the composed state.
type Snapshot struct {
	Connected bool
	ConnError string
	ModelInfo *domain.ModelInfo

	Models         []domain.ModelDescriptor
	CurrentModelID string
	Switching      bool

	Sessions  []domain.Session
	SessionID string

	Messages []domain.Message
	Assets   []domain.Asset

	Generating   bool
	Confirming   bool
	Transcribing bool
	LastError    string

	// CanSend is the conjunction of connected, model selected, session
	// selected, and not Locked.
	CanSend bool
	// Locked is true while a turn, a model switch, or a transcription is
	// in flight.
	Locked bool
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Connected:      o.connected,
		ConnError:      o.connErr,
		CurrentModelID: o.currentModel,
		Switching:      o.switching,
		SessionID:      o.sessionID,
		Generating:     o.phase == phaseSending || o.phase == phaseStreaming,
		Confirming:     o.phase == phaseConfirming,
		Transcribing:   o.transcribing,
		LastError:      o.lastError,
		Locked:         o.lockedLocked(),
		CanSend:        o.canSendLocked(),
	}
	if o.modelInfo != nil {
		mi := *o.modelInfo
		snap.ModelInfo = &mi
	}
	snap.Models = append([]domain.ModelDescriptor(nil), o.models...)
	snap.Sessions = append([]domain.Session(nil), o.sessions...)
	snap.Messages = append([]domain.Message(nil), o.messages...)
	snap.Assets = make([]domain.Asset, 0, len(o.assetOrder))
	for _, id := range o.assetOrder {
		snap.Assets = append(snap.Assets, *o.assets[id])
	}
	return snap
}

func (o *Orchestrator) lockedLocked() bool {
	return o.phase != phaseIdle || o.switching || o.transcribing
}

func (o *Orchestrator) canSendLocked() bool {
	return o.connected && o.currentModel != "" && o.sessionID != "" && !o.lockedLocked()
}

// appendMessageLocked adds a message to the log and indexes it.
func (o *Orchestrator) appendMessageLocked(m domain.Message) {
	o.msgIndex[m.ID] = len(o.messages)
	o.messages = append(o.messages, m)
}

// setMessagesLocked replaces the log wholesale.
func (o *Orchestrator) setMessagesLocked(msgs []domain.Message) {
	o.messages = msgs
	o.msgIndex = make(map[string]int, len(msgs))
	for i, m := range msgs {
		o.msgIndex[m.ID] = i
	}
}

// clearLogLocked empties the conversation log.
func (o *Orchestrator) clearLogLocked() {
	o.messages = nil
	o.msgIndex = make(map[string]int)
}

func (o *Orchestrator) findSessionLocked(id string) int {
	for i := range o.sessions {
		if o.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) hasModelLocked(id string) bool {
	for i := range o.models {
		if o.models[i].ID == id {
			return true
		}
	}
	return false
}

// touchSessionLocked bumps the selected session's activity counters.
func (o *Orchestrator) touchSessionLocked(added int) {
	if i := o.findSessionLocked(o.sessionID); i >= 0 {
		o.sessions[i].MessageCount += added
		o.sessions[i].UpdatedAt = time.Now()
	}
}

// attachableLocked returns the selected assets eligible for the next
// request. Eligibility is checked here, at consumption time, never at
// selection time.
func (o *Orchestrator) attachableLocked() []domain.Asset {
	var out []domain.Asset
	for _, id := range o.assetOrder {
		a := o.assets[id]
		if a.Selected && a.Attachable() {
			out = append(out, *a)
		}
	}
	return out
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// shortErr flattens an error into a one-line status string for banners.
func shortErr(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
