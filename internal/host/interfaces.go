// Package host declares the collaborator interfaces the engine consumes
// from the game server it runs inside. The engine never reaches past these
// seams; everything behind them belongs to the host and is injected at
// composition time.
package host

import (
	"context"
	"database/sql"
)

// EntityCatalog is the host's read-only template data. Implementations are
// in-memory and callable from any goroutine.
type EntityCatalog interface {
	Items() []ItemTemplate
	Classes() []ClassInfo
	Races() []RaceInfo
	Talents(class, spec uint8) []TalentEntry
}

// EntityMutator mutates host character entities. Every method must be called
// on the host's main tick goroutine only.
type EntityMutator interface {
	CreateCharacter(identity Identity) (EntityID, error)
	GiveLevel(id EntityID, level int) error
	SetSpecialization(id EntityID, spec uint8, slot int) error
	ActivateSpecSlot(id EntityID, slot int) error
	LearnTalent(id EntityID, talent uint32) error
	CreateAndEquip(id EntityID, slot EquipSlot, item uint32) error
	AddItem(id EntityID, item uint32, count int) error
	Teleport(id EntityID, pos Position) error
	Save(id EntityID) error
	Logout(id EntityID) error
	Delete(id EntityID) error

	LeaveGuild(id EntityID) (bool, error)
	PendingMail(id EntityID) ([]Mail, error)
	ReturnMail(id EntityID, mail uint64) error
	DeleteMail(id EntityID, mail uint64) error
	ActiveAuctions(id EntityID) ([]Auction, error)
	CancelAuction(id EntityID, auction uint64) error
}

// PresenceReader answers whether an entity is fully in-world. The lifecycle
// controller holds bots in LOGGING_IN until this reports true.
type PresenceReader interface {
	InWorld(id EntityID) bool
}

// WorldCensus exposes real-player occupancy, the input to population targets.
type WorldCensus interface {
	RealPlayersByZone() map[uint32]int
	RealPlayerCount() int
}

// QueueInspector snapshots the host's group-finder and battleground queues.
// Read-only; the engine never mutates queue state through this seam.
type QueueInspector interface {
	Queues() []QueueSnapshot
}

// QueueSubmitter enrolls and withdraws entities from host queues. Main
// thread only.
type QueueSubmitter interface {
	Enqueue(id EntityID, queueKey string, role Role) error
	Withdraw(id EntityID, queueKey string) error
}

// PersistenceBackend executes prepared statements against the engine's own
// storage. Exec and Query are synchronous and expected to be short; Async
// runs the statement on a worker and delivers the error to done.
type PersistenceBackend interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Async(query string, args []any, done func(error))
}

// EventSource registers host callbacks. Callbacks may fire on any goroutine;
// the bridge funnels them onto the main thread before anyone reacts.
type EventSource interface {
	OnGroupEvent(func(GroupEvent))
	OnQueueEvent(func(QueueEvent))
	OnCombatEvent(func(CombatEvent))
	OnShutdown(func())
}
