package host

// EntityID identifies a character entity owned by the host. IDs are opaque,
// stable for the entity's lifetime and never reused.
type EntityID uint64

type Faction uint8

const (
	FactionAlliance Faction = iota
	FactionHorde
)

// FactionCount sizes per-faction arrays.
const FactionCount = 2

// Factions lists every playable faction in selection order.
var Factions = [FactionCount]Faction{FactionAlliance, FactionHorde}

func (f Faction) String() string {
	switch f {
	case FactionAlliance:
		return "alliance"
	case FactionHorde:
		return "horde"
	default:
		return "unknown"
	}
}

type Role uint8

const (
	RoleTank Role = iota
	RoleHealer
	RoleDPS
)

func (r Role) String() string {
	switch r {
	case RoleTank:
		return "tank"
	case RoleHealer:
		return "healer"
	case RoleDPS:
		return "dps"
	default:
		return "unknown"
	}
}

type Quality uint8

const (
	QualityPoor Quality = iota
	QualityCommon
	QualityUncommon
	QualityRare
	QualityEpic
	QualityLegendary
)

// EquipSlot enumerates the semantic equipment slots a gear set fills.
type EquipSlot uint8

const (
	SlotHead EquipSlot = iota
	SlotNeck
	SlotShoulder
	SlotBack
	SlotChest
	SlotWrist
	SlotHands
	SlotWaist
	SlotLegs
	SlotFeet
	SlotFinger1
	SlotFinger2
	SlotTrinket1
	SlotTrinket2
	SlotMainHand
	SlotOffHand
	SlotRanged
	slotCount
)

// EquipSlots lists every equipment slot in application order.
var EquipSlots = func() []EquipSlot {
	slots := make([]EquipSlot, 0, int(slotCount))
	for s := EquipSlot(0); s < slotCount; s++ {
		slots = append(slots, s)
	}
	return slots
}()

func (s EquipSlot) String() string {
	names := [...]string{
		"head", "neck", "shoulder", "back", "chest", "wrist", "hands",
		"waist", "legs", "feet", "finger1", "finger2", "trinket1",
		"trinket2", "mainhand", "offhand", "ranged",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

type Stat uint8

const (
	StatStrength Stat = iota
	StatAgility
	StatIntellect
	StatStamina
	StatSpirit
	StatCrit
	StatHaste
	StatMastery
)

type StatValue struct {
	Stat   Stat
	Amount int
}

// ItemKind partitions the host item catalog into the groups the gear builder
// cares about.
type ItemKind uint8

const (
	ItemKindArmor ItemKind = iota
	ItemKindWeapon
	ItemKindBag
	ItemKindConsumable
	ItemKindOther
)

// ItemTemplate is the read-only item record exposed by the host catalog.
type ItemTemplate struct {
	ID            uint32
	Name          string
	Kind          ItemKind
	Quality       Quality
	ItemLevel     int
	RequiredLevel int
	Slot          EquipSlot
	Equippable    bool
	ClassMask     uint32
	Stats         []StatValue
	BagSlots      int
}

// UsableBy reports whether the template's class mask admits the class.
// A zero mask admits every class.
func (t ItemTemplate) UsableBy(class uint8) bool {
	if t.ClassMask == 0 {
		return true
	}
	return t.ClassMask&(1<<uint32(class)) != 0
}

// SpecInfo describes one specialization of a class, including the stat
// priority the gear builder scores candidates against.
type SpecInfo struct {
	Class        uint8
	Spec         uint8
	Role         Role
	Name         string
	StatPriority []Stat
}

// ClassInfo groups a class with its specializations.
type ClassInfo struct {
	Class uint8
	Name  string
	Specs []SpecInfo
}

// RaceInfo maps a race onto its faction and the classes it may roll.
type RaceInfo struct {
	Race           uint8
	Name           string
	Faction        Faction
	AllowedClasses []uint8
}

// TalentEntry is one learnable talent in catalog order.
type TalentEntry struct {
	ID            uint32
	RequiredLevel int
	Hero          bool
}

// Identity fixes a bot's immutable creation attributes.
type Identity struct {
	AccountGroup uint32
	Name         string
	Race         uint8
	Class        uint8
	Gender       uint8
	Faction      Faction
}

// Position is a safe spawn location inside a host map.
type Position struct {
	ZoneID  uint32
	MapID   uint32
	X, Y, Z float64
	Facing  float64
}

type QueueKind uint8

const (
	QueueKindDungeon QueueKind = iota
	QueueKindBattleground
)

// QueueSnapshot is a point-in-time view of one host queue. The host mutates
// queues between polls, so consumers treat snapshots as advisory.
type QueueSnapshot struct {
	Key      string
	Kind     QueueKind
	Faction  Faction
	MinLevel int
	MaxLevel int
	Waiting  map[Role]int
	Required map[Role]int
}

// MissingRoles returns required minus waiting per role, dropping non-positive
// entries. An empty result means the queue can already form.
func (q QueueSnapshot) MissingRoles() map[Role]int {
	missing := make(map[Role]int)
	for role, required := range q.Required {
		if gap := required - q.Waiting[role]; gap > 0 {
			missing[role] = gap
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}

// Mail is a pending mailbox entry read during retirement.
type Mail struct {
	ID             uint64
	Sender         EntityID
	HasAttachments bool
}

// Auction is an active auction-house listing read during retirement.
type Auction struct {
	ID      uint64
	Deposit int64
}

// GroupEventKind enumerates group composition changes observed from the host.
type GroupEventKind uint8

const (
	GroupMemberJoined GroupEventKind = iota
	GroupMemberLeft
	GroupLeaderChanged
	GroupLootChanged
	GroupRoleChanged
	GroupIconChanged
)

type GroupEvent struct {
	Kind    GroupEventKind
	GroupID uint64
	Member  EntityID
}

// QueueEventKind enumerates queue state transitions observed from the host.
type QueueEventKind uint8

const (
	QueueJoined QueueEventKind = iota
	QueueProposal
	QueueActive
	QueueFailed
	QueueLeft
)

type QueueEvent struct {
	Kind     QueueEventKind
	QueueKey string
	Entity   EntityID
}

type CombatEvent struct {
	Entity  EntityID
	Entered bool
}
