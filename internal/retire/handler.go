// Package retire walks bots through the graceful exit sequence: guild,
// mailbox and auction cleanup, a final save, logout and deletion. Stages
// are idempotent and retried with a cap; a stage that exhausts its
// retries parks the bot in FAILED_RETIREMENT for an operator.
package retire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bothive/engine/internal/distribution"
	"bothive/engine/internal/host"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/locking"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	loglifecycle "bothive/engine/logging/lifecycle"
)

// ErrAlreadyRetiring reports a second Begin for a bot already in flight.
var ErrAlreadyRetiring = errors.New("retire: already retiring")

// Config tunes the exit pipeline.
type Config struct {
	// ReturnMail returns mail with attachments to the sender; when false
	// attachments are discarded with the mail.
	ReturnMail bool
	// SoftRetire skips character deletion, leaving the entity on disk.
	SoftRetire   bool
	StageTimeout time.Duration
	MaxRetries   int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		ReturnMail:   true,
		StageTimeout: 15 * time.Second,
		MaxRetries:   3,
	}
}

// Progress is the durable record of one retirement in flight.
type Progress struct {
	BotID        host.EntityID
	Stage        Stage
	Attempts     int
	StartedAt    time.Time
	StageStarted time.Time
	MailsCleared int
	LastError    string

	level   int
	faction host.Faction
}

// ProgressStore persists retirement progress across restarts. Implemented
// by the sqlite store; a nil store disables persistence.
type ProgressStore interface {
	SaveRetirement(botID uint64, stage string, attempts, level int, faction host.Faction) error
	ClearRetirement(botID uint64) error
}

// Handler drives every in-flight retirement. Main thread only.
type Handler struct {
	cfg        Config
	mutator    host.EntityMutator
	controller *lifecycle.Controller
	levels     *distribution.Levels
	store      ProgressStore
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	clock      logging.Clock

	mu     *locking.Mutex
	active map[host.EntityID]*Progress
}

// New constructs a handler.
func New(cfg Config, mutator host.EntityMutator, controller *lifecycle.Controller, levels *distribution.Levels, store ProgressStore, publisher logging.Publisher, metrics telemetry.Metrics, clock logging.Clock) *Handler {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Handler{
		cfg:        cfg,
		mutator:    mutator,
		controller: controller,
		levels:     levels,
		store:      store,
		publisher:  publisher,
		metrics:    metrics,
		clock:      clock,
		mu:         locking.NewMutex(locking.LayerExitPipeline),
		active:     make(map[host.EntityID]*Progress),
	}
}

// Begin moves the bot to LOGGING_OUT and starts the stage sequence.
func (h *Handler) Begin(id host.EntityID) error {
	if h == nil {
		return errors.New("retire: nil handler")
	}
	h.mu.Lock()
	_, exists := h.active[id]
	h.mu.Unlock()
	if exists {
		return ErrAlreadyRetiring
	}

	snap, ok := h.controller.Get(id)
	if !ok {
		return lifecycle.ErrUnknownBot
	}
	if err := h.controller.Stop(id); err != nil {
		return err
	}
	now := h.clock.Now()
	progress := &Progress{
		BotID:        id,
		Stage:        StageLeavingGuild,
		StartedAt:    now,
		StageStarted: now,
		level:        snap.Level,
		faction:      snap.Faction,
	}
	h.mu.Lock()
	h.active[id] = progress
	h.mu.Unlock()
	h.persist(progress)
	if h.metrics != nil {
		h.metrics.Add("retire.started", 1)
	}
	return nil
}

// Resume re-adopts a retirement persisted by a previous process. The bot
// has no lifecycle record anymore; every stage tolerates that, and the
// persisted level keeps the bracket counters honest on completion.
func (h *Handler) Resume(id host.EntityID, stage Stage, attempts, level int, faction host.Faction) error {
	if h == nil {
		return errors.New("retire: nil handler")
	}
	h.mu.Lock()
	_, exists := h.active[id]
	h.mu.Unlock()
	if exists {
		return ErrAlreadyRetiring
	}
	if stage >= StageComplete {
		stage = StageDeletingCharacter
	}
	now := h.clock.Now()
	progress := &Progress{
		BotID:        id,
		Stage:        stage,
		Attempts:     attempts,
		StartedAt:    now,
		StageStarted: now,
		level:        level,
		faction:      faction,
	}
	h.mu.Lock()
	h.active[id] = progress
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Add("retire.resumed", 1)
	}
	return nil
}

// ActiveCount reports in-flight retirements.
func (h *Handler) ActiveCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// Snapshot copies the in-flight progress records.
func (h *Handler) Snapshot() []Progress {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Progress, 0, len(h.active))
	for _, progress := range h.active {
		out = append(out, *progress)
	}
	return out
}

// Tick advances every in-flight retirement by at most one stage attempt.
// Main thread only. Returns the number of retirements that completed or
// failed this tick.
func (h *Handler) Tick() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	pending := make([]*Progress, 0, len(h.active))
	for _, progress := range h.active {
		pending = append(pending, progress)
	}
	h.mu.Unlock()

	settled := 0
	for _, progress := range pending {
		if h.step(progress) {
			settled++
		}
	}
	return settled
}

// step runs one attempt of the current stage; reports true when the
// retirement left the active set.
func (h *Handler) step(progress *Progress) bool {
	h.controller.Touch(progress.BotID)
	now := h.clock.Now()

	outcome, err := h.runStage(progress)
	if err != nil || now.Sub(progress.StageStarted) > h.cfg.StageTimeout {
		progress.Attempts++
		if err != nil {
			progress.LastError = err.Error()
		} else {
			progress.LastError = fmt.Sprintf("stage %s timed out", progress.Stage)
		}
		if progress.Attempts >= h.cfg.MaxRetries {
			h.fail(progress)
			return true
		}
		h.persist(progress)
		return false
	}
	if outcome == OutcomeNotNeeded && h.metrics != nil {
		h.metrics.Add("retire.stage_skipped", 1)
	}

	progress.Stage++
	progress.Attempts = 0
	progress.LastError = ""
	progress.StageStarted = now
	if progress.Stage == StageComplete {
		h.complete(progress)
		return true
	}
	h.persist(progress)
	return false
}

func (h *Handler) runStage(progress *Progress) (Outcome, error) {
	id := progress.BotID
	switch progress.Stage {
	case StageLeavingGuild:
		left, err := h.mutator.LeaveGuild(id)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("leave guild: %w", err)
		}
		if !left {
			return OutcomeNotNeeded, nil
		}
		return OutcomeSuccess, nil

	case StageClearingMail:
		mails, err := h.mutator.PendingMail(id)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("pending mail: %w", err)
		}
		if len(mails) == 0 {
			return OutcomeNotNeeded, nil
		}
		for _, mail := range mails {
			if mail.HasAttachments && h.cfg.ReturnMail {
				err = h.mutator.ReturnMail(id, mail.ID)
			} else {
				err = h.mutator.DeleteMail(id, mail.ID)
			}
			if err != nil {
				return OutcomeRetry, fmt.Errorf("clear mail %d: %w", mail.ID, err)
			}
			progress.MailsCleared++
		}
		return OutcomeSuccess, nil

	case StageCancellingAuctions:
		auctions, err := h.mutator.ActiveAuctions(id)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("active auctions: %w", err)
		}
		if len(auctions) == 0 {
			return OutcomeNotNeeded, nil
		}
		for _, auction := range auctions {
			if err := h.mutator.CancelAuction(id, auction.ID); err != nil {
				return OutcomeRetry, fmt.Errorf("cancel auction %d: %w", auction.ID, err)
			}
		}
		return OutcomeSuccess, nil

	case StageSavingState:
		if err := h.mutator.Save(id); err != nil {
			return OutcomeRetry, fmt.Errorf("save: %w", err)
		}
		return OutcomeSuccess, nil

	case StageLoggingOut:
		if err := h.mutator.Logout(id); err != nil {
			return OutcomeRetry, fmt.Errorf("logout: %w", err)
		}
		_ = h.controller.Transition(id, lifecycle.StateOffline)
		return OutcomeSuccess, nil

	case StageDeletingCharacter:
		if h.cfg.SoftRetire {
			return OutcomeNotNeeded, nil
		}
		if err := h.mutator.Delete(id); err != nil {
			return OutcomeRetry, fmt.Errorf("delete: %w", err)
		}
		return OutcomeSuccess, nil
	}
	return OutcomeNotNeeded, nil
}

func (h *Handler) complete(progress *Progress) {
	id := progress.BotID
	_ = h.controller.Transition(id, lifecycle.StateTerminated)
	h.controller.Remove(id)
	if h.levels != nil {
		_ = h.levels.Decrement(progress.level, progress.faction)
	}
	h.drop(id)
	if h.store != nil {
		_ = h.store.ClearRetirement(uint64(id))
	}
	if h.metrics != nil {
		h.metrics.Add("retire.completed", 1)
	}
	loglifecycle.BotRetired(context.Background(), h.publisher, 0,
		logging.BotRef(uint64(id)), loglifecycle.BotRetiredPayload{
			Deleted:      !h.cfg.SoftRetire,
			MailsCleared: progress.MailsCleared,
		}, nil)
}

func (h *Handler) fail(progress *Progress) {
	id := progress.BotID
	if snap, ok := h.controller.Get(id); ok && (snap.State == lifecycle.StateLoggingOut || snap.State == lifecycle.StateOffline) {
		_ = h.controller.Transition(id, lifecycle.StateFailedRetirement)
	}
	h.drop(id)
	h.persist(progress)
	if h.metrics != nil {
		h.metrics.Add("retire.failed", 1)
	}
	loglifecycle.BotRetired(context.Background(), h.publisher, 0,
		logging.BotRef(uint64(id)), loglifecycle.BotRetiredPayload{
			Deleted:      false,
			FailedStage:  progress.Stage.String(),
			MailsCleared: progress.MailsCleared,
		}, nil)
}

func (h *Handler) drop(id host.EntityID) {
	h.mu.Lock()
	delete(h.active, id)
	h.mu.Unlock()
}

func (h *Handler) persist(progress *Progress) {
	if h.store == nil {
		return
	}
	_ = h.store.SaveRetirement(uint64(progress.BotID), progress.Stage.String(), progress.Attempts, progress.level, progress.faction)
}
