package lifecycle

import (
	"context"

	"bothive/engine/logging"
)

const (
	// EventBotCreated is emitted when a creation task finishes the apply phase.
	EventBotCreated logging.EventType = "lifecycle.bot_created"
	// EventBotStateChanged is emitted on every lifecycle state transition.
	EventBotStateChanged logging.EventType = "lifecycle.bot_state_changed"
	// EventBotRetired is emitted when the retirement pipeline completes.
	EventBotRetired logging.EventType = "lifecycle.bot_retired"
	// EventBotStalled is emitted when the health monitor flags a bot.
	EventBotStalled logging.EventType = "lifecycle.bot_stalled"
)

// BotCreatedPayload captures the applied identity of a new bot.
type BotCreatedPayload struct {
	Level   int    `json:"level"`
	Class   uint8  `json:"class"`
	Faction string `json:"faction"`
	ZoneID  uint32 `json:"zoneId"`
}

// StateChangedPayload records a single state machine transition.
type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// BotRetiredPayload records the terminal retirement outcome.
type BotRetiredPayload struct {
	Deleted      bool   `json:"deleted"`
	FailedStage  string `json:"failedStage,omitempty"`
	MailsCleared int    `json:"mailsCleared"`
}

// BotCreated publishes a bot creation event.
func BotCreated(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload BotCreatedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBotCreated,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// StateChanged publishes a lifecycle transition event.
func StateChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StateChangedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBotStateChanged,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// BotRetired publishes a retirement completion event.
func BotRetired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload BotRetiredPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if payload.FailedStage != "" {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBotRetired,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// BotStalled publishes a stall detection event.
func BotStalled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBotStalled,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryHealth,
		Extra:    extra,
	})
}
