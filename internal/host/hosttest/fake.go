// Package hosttest provides an in-memory host implementation for tests.
package hosttest

import (
	"errors"
	"fmt"
	"sync"

	"bothive/engine/internal/host"
)

// Entity is the mutable test-side record for one created character.
type Entity struct {
	Identity     host.Identity
	Level        int
	Specs        [2]uint8
	ActiveSlot   int
	Talents      []uint32
	Equipped     map[host.EquipSlot]uint32
	Items        map[uint32]int
	Position     host.Position
	Saves        int
	LoggedOut    bool
	Deleted      bool
	GuildID      uint64
	Mail         []host.Mail
	Auctions     []host.Auction
	InWorldFlag  bool
	QueuedIn     map[string]host.Role
	ReturnedMail []uint64
	DeletedMail  []uint64
	Cancelled    []uint64
}

// Fake implements every host collaborator interface over in-memory state.
// Error injection fields let tests force specific host rejections.
type Fake struct {
	mu       sync.Mutex
	nextID   host.EntityID
	Entities map[host.EntityID]*Entity

	items   []host.ItemTemplate
	classes []host.ClassInfo
	races   []host.RaceInfo
	talents map[[2]uint8][]host.TalentEntry

	QueueState  []host.QueueSnapshot
	RealPlayers map[uint32]int

	FailEquipSlot  host.EquipSlot
	FailEquip      bool
	FailCreate     bool
	FailLeaveGuild bool
	FailMailOnce   bool
	AutoInWorld    bool

	groupHandlers    []func(host.GroupEvent)
	queueHandlers    []func(host.QueueEvent)
	combatHandlers   []func(host.CombatEvent)
	shutdownHandlers []func()
}

// New constructs a fake host seeded with the default catalog. Created
// entities report in-world immediately unless AutoInWorld is cleared.
func New() *Fake {
	f := &Fake{
		nextID:      1000,
		Entities:    make(map[host.EntityID]*Entity),
		RealPlayers: make(map[uint32]int),
		AutoInWorld: true,
	}
	f.items, f.classes, f.races, f.talents = DefaultCatalog()
	return f
}

// Class identifiers used by the default catalog.
const (
	ClassWarrior uint8 = 1
	ClassPriest  uint8 = 2
	ClassMage    uint8 = 3
	ClassDruid   uint8 = 4
)

// Spec identifiers used by the default catalog.
const (
	SpecArms       uint8 = 1
	SpecProtection uint8 = 2
	SpecHoly       uint8 = 3
	SpecShadow     uint8 = 4
	SpecFrost      uint8 = 5
	SpecBalance    uint8 = 6
	SpecGuardian   uint8 = 7
	SpecRestor     uint8 = 8
)

// Race identifiers used by the default catalog.
const (
	RaceHuman uint8 = 1
	RaceOrc   uint8 = 2
	RaceElf   uint8 = 3
	RaceTroll uint8 = 4
)

// DefaultCatalog builds a compact but complete catalog: four classes
// covering every role, two races per faction, talents every other level
// with hero talents past 70, and equippable items across all slots,
// qualities and five-level bands up to 80.
func DefaultCatalog() ([]host.ItemTemplate, []host.ClassInfo, []host.RaceInfo, map[[2]uint8][]host.TalentEntry) {
	classes := []host.ClassInfo{
		{Class: ClassWarrior, Name: "warrior", Specs: []host.SpecInfo{
			{Class: ClassWarrior, Spec: SpecArms, Role: host.RoleDPS, Name: "arms", StatPriority: []host.Stat{host.StatStrength, host.StatCrit, host.StatStamina}},
			{Class: ClassWarrior, Spec: SpecProtection, Role: host.RoleTank, Name: "protection", StatPriority: []host.Stat{host.StatStamina, host.StatStrength, host.StatMastery}},
		}},
		{Class: ClassPriest, Name: "priest", Specs: []host.SpecInfo{
			{Class: ClassPriest, Spec: SpecHoly, Role: host.RoleHealer, Name: "holy", StatPriority: []host.Stat{host.StatIntellect, host.StatSpirit, host.StatHaste}},
			{Class: ClassPriest, Spec: SpecShadow, Role: host.RoleDPS, Name: "shadow", StatPriority: []host.Stat{host.StatIntellect, host.StatHaste, host.StatCrit}},
		}},
		{Class: ClassMage, Name: "mage", Specs: []host.SpecInfo{
			{Class: ClassMage, Spec: SpecFrost, Role: host.RoleDPS, Name: "frost", StatPriority: []host.Stat{host.StatIntellect, host.StatCrit, host.StatHaste}},
		}},
		{Class: ClassDruid, Name: "druid", Specs: []host.SpecInfo{
			{Class: ClassDruid, Spec: SpecBalance, Role: host.RoleDPS, Name: "balance", StatPriority: []host.Stat{host.StatIntellect, host.StatHaste, host.StatMastery}},
			{Class: ClassDruid, Spec: SpecGuardian, Role: host.RoleTank, Name: "guardian", StatPriority: []host.Stat{host.StatStamina, host.StatAgility, host.StatMastery}},
			{Class: ClassDruid, Spec: SpecRestor, Role: host.RoleHealer, Name: "restoration", StatPriority: []host.Stat{host.StatIntellect, host.StatSpirit, host.StatMastery}},
		}},
	}

	races := []host.RaceInfo{
		{Race: RaceHuman, Name: "human", Faction: host.FactionAlliance, AllowedClasses: []uint8{ClassWarrior, ClassPriest, ClassMage}},
		{Race: RaceElf, Name: "elf", Faction: host.FactionAlliance, AllowedClasses: []uint8{ClassWarrior, ClassPriest, ClassDruid}},
		{Race: RaceOrc, Name: "orc", Faction: host.FactionHorde, AllowedClasses: []uint8{ClassWarrior, ClassMage}},
		{Race: RaceTroll, Name: "troll", Faction: host.FactionHorde, AllowedClasses: []uint8{ClassPriest, ClassMage, ClassDruid}},
	}

	talents := make(map[[2]uint8][]host.TalentEntry)
	var talentID uint32 = 1
	for _, class := range classes {
		for _, spec := range class.Specs {
			var entries []host.TalentEntry
			for level := 10; level <= 70; level += 2 {
				entries = append(entries, host.TalentEntry{ID: talentID, RequiredLevel: level})
				talentID++
			}
			for level := 71; level <= 80; level += 3 {
				entries = append(entries, host.TalentEntry{ID: talentID, RequiredLevel: level, Hero: true})
				talentID++
			}
			talents[[2]uint8{class.Class, spec.Spec}] = entries
		}
	}

	var items []host.ItemTemplate
	var itemID uint32 = 10000
	statFor := map[host.EquipSlot]host.Stat{
		host.SlotMainHand: host.StatStrength,
		host.SlotOffHand:  host.StatStamina,
		host.SlotRanged:   host.StatAgility,
	}
	for _, slot := range host.EquipSlots {
		for level := 5; level <= 80; level += 5 {
			for _, quality := range []host.Quality{host.QualityUncommon, host.QualityRare, host.QualityEpic} {
				if quality == host.QualityEpic && level < 60 {
					continue
				}
				primary := host.StatIntellect
				if s, ok := statFor[slot]; ok {
					primary = s
				}
				kind := host.ItemKindArmor
				if slot == host.SlotMainHand || slot == host.SlotOffHand || slot == host.SlotRanged {
					kind = host.ItemKindWeapon
				}
				items = append(items, host.ItemTemplate{
					ID:            itemID,
					Name:          fmt.Sprintf("%s-%d-q%d", slot, level, quality),
					Kind:          kind,
					Quality:       quality,
					ItemLevel:     level + int(quality)*3,
					RequiredLevel: level,
					Slot:          slot,
					Equippable:    true,
					Stats: []host.StatValue{
						{Stat: primary, Amount: level + int(quality)*5},
						{Stat: host.StatStamina, Amount: level / 2},
						{Stat: host.StatStrength, Amount: level / 3},
						{Stat: host.StatAgility, Amount: level / 3},
						{Stat: host.StatSpirit, Amount: level / 4},
						{Stat: host.StatCrit, Amount: level / 4},
						{Stat: host.StatHaste, Amount: level / 4},
						{Stat: host.StatMastery, Amount: level / 5},
					},
				})
				itemID++
			}
		}
	}
	for _, bag := range []struct {
		slots    int
		required int
	}{{6, 1}, {10, 20}, {16, 50}} {
		items = append(items, host.ItemTemplate{
			ID:            itemID,
			Name:          fmt.Sprintf("bag-%d", bag.slots),
			Kind:          host.ItemKindBag,
			Quality:       host.QualityCommon,
			ItemLevel:     5,
			RequiredLevel: bag.required,
			BagSlots:      bag.slots,
		})
		itemID++
	}
	for _, consumable := range []string{"food", "water", "potion"} {
		items = append(items, host.ItemTemplate{
			ID:            itemID,
			Name:          consumable,
			Kind:          host.ItemKindConsumable,
			Quality:       host.QualityCommon,
			ItemLevel:     5,
			RequiredLevel: 1,
		})
		itemID++
	}

	return items, classes, races, talents
}

func (f *Fake) Items() []host.ItemTemplate { return f.items }
func (f *Fake) Classes() []host.ClassInfo  { return f.classes }
func (f *Fake) Races() []host.RaceInfo     { return f.races }

func (f *Fake) Talents(class, spec uint8) []host.TalentEntry {
	return f.talents[[2]uint8{class, spec}]
}

func (f *Fake) CreateCharacter(identity host.Identity) (host.EntityID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return 0, errors.New("hosttest: create rejected")
	}
	f.nextID++
	id := f.nextID
	f.Entities[id] = &Entity{
		Identity:    identity,
		Level:       1,
		Equipped:    make(map[host.EquipSlot]uint32),
		Items:       make(map[uint32]int),
		InWorldFlag: f.AutoInWorld,
		QueuedIn:    make(map[string]host.Role),
	}
	return id, nil
}

func (f *Fake) entity(id host.EntityID) (*Entity, error) {
	e, ok := f.Entities[id]
	if !ok || e.Deleted {
		return nil, fmt.Errorf("hosttest: no entity %d", id)
	}
	return e, nil
}

func (f *Fake) GiveLevel(id host.EntityID, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Level = level
	return nil
}

func (f *Fake) SetSpecialization(id host.EntityID, spec uint8, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	if slot < 0 || slot > 1 {
		return fmt.Errorf("hosttest: bad spec slot %d", slot)
	}
	e.Specs[slot] = spec
	return nil
}

func (f *Fake) ActivateSpecSlot(id host.EntityID, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.ActiveSlot = slot
	return nil
}

func (f *Fake) LearnTalent(id host.EntityID, talent uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Talents = append(e.Talents, talent)
	return nil
}

func (f *Fake) CreateAndEquip(id host.EntityID, slot host.EquipSlot, item uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	if f.FailEquip && slot == f.FailEquipSlot {
		return errors.New("hosttest: equip rejected")
	}
	e.Equipped[slot] = item
	return nil
}

func (f *Fake) AddItem(id host.EntityID, item uint32, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Items[item] += count
	return nil
}

func (f *Fake) Teleport(id host.EntityID, pos host.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Position = pos
	return nil
}

func (f *Fake) Save(id host.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Saves++
	return nil
}

func (f *Fake) Logout(id host.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.LoggedOut = true
	e.InWorldFlag = false
	return nil
}

func (f *Fake) Delete(id host.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.Deleted = true
	return nil
}

func (f *Fake) LeaveGuild(id host.EntityID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return false, err
	}
	if f.FailLeaveGuild {
		return false, errors.New("hosttest: guild leave rejected")
	}
	if e.GuildID == 0 {
		return false, nil
	}
	e.GuildID = 0
	return true, nil
}

func (f *Fake) PendingMail(id host.EntityID) ([]host.Mail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return nil, err
	}
	if f.FailMailOnce {
		f.FailMailOnce = false
		return nil, errors.New("hosttest: mailbox busy")
	}
	return append([]host.Mail(nil), e.Mail...), nil
}

func (f *Fake) ReturnMail(id host.EntityID, mail uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.ReturnedMail = append(e.ReturnedMail, mail)
	f.removeMail(e, mail)
	return nil
}

func (f *Fake) DeleteMail(id host.EntityID, mail uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.DeletedMail = append(e.DeletedMail, mail)
	f.removeMail(e, mail)
	return nil
}

func (f *Fake) removeMail(e *Entity, mail uint64) {
	for i, m := range e.Mail {
		if m.ID == mail {
			e.Mail = append(e.Mail[:i], e.Mail[i+1:]...)
			return
		}
	}
}

func (f *Fake) ActiveAuctions(id host.EntityID) ([]host.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return nil, err
	}
	return append([]host.Auction(nil), e.Auctions...), nil
}

func (f *Fake) CancelAuction(id host.EntityID, auction uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	for i, a := range e.Auctions {
		if a.ID == auction {
			e.Auctions = append(e.Auctions[:i], e.Auctions[i+1:]...)
			e.Cancelled = append(e.Cancelled, auction)
			return nil
		}
	}
	return fmt.Errorf("hosttest: no auction %d", auction)
}

func (f *Fake) InWorld(id host.EntityID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.Entities[id]
	return ok && !e.Deleted && e.InWorldFlag
}

func (f *Fake) RealPlayersByZone() map[uint32]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[uint32]int, len(f.RealPlayers))
	for zone, count := range f.RealPlayers {
		copied[zone] = count
	}
	return copied
}

func (f *Fake) RealPlayerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, count := range f.RealPlayers {
		total += count
	}
	return total
}

func (f *Fake) Queues() []host.QueueSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]host.QueueSnapshot, len(f.QueueState))
	copy(copied, f.QueueState)
	return copied
}

func (f *Fake) Enqueue(id host.EntityID, queueKey string, role host.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	e.QueuedIn[queueKey] = role
	return nil
}

func (f *Fake) Withdraw(id host.EntityID, queueKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.entity(id)
	if err != nil {
		return err
	}
	delete(e.QueuedIn, queueKey)
	return nil
}

func (f *Fake) OnGroupEvent(fn func(host.GroupEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupHandlers = append(f.groupHandlers, fn)
}

func (f *Fake) OnQueueEvent(fn func(host.QueueEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueHandlers = append(f.queueHandlers, fn)
}

func (f *Fake) OnCombatEvent(fn func(host.CombatEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combatHandlers = append(f.combatHandlers, fn)
}

func (f *Fake) OnShutdown(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownHandlers = append(f.shutdownHandlers, fn)
}

// FireGroup invokes every registered group handler.
func (f *Fake) FireGroup(event host.GroupEvent) {
	f.mu.Lock()
	handlers := append([]func(host.GroupEvent){}, f.groupHandlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
}

// FireQueue invokes every registered queue handler.
func (f *Fake) FireQueue(event host.QueueEvent) {
	f.mu.Lock()
	handlers := append([]func(host.QueueEvent){}, f.queueHandlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
}

// FireCombat invokes every registered combat handler.
func (f *Fake) FireCombat(event host.CombatEvent) {
	f.mu.Lock()
	handlers := append([]func(host.CombatEvent){}, f.combatHandlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
}

// FireShutdown invokes every registered shutdown handler.
func (f *Fake) FireShutdown() {
	f.mu.Lock()
	handlers := append([]func(){}, f.shutdownHandlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Live returns the identifiers of entities that exist and are not deleted.
func (f *Fake) Live() []host.EntityID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []host.EntityID
	for id, e := range f.Entities {
		if !e.Deleted {
			ids = append(ids, id)
		}
	}
	return ids
}

// Compile-time interface checks.
var (
	_ host.EntityCatalog  = (*Fake)(nil)
	_ host.EntityMutator  = (*Fake)(nil)
	_ host.PresenceReader = (*Fake)(nil)
	_ host.WorldCensus    = (*Fake)(nil)
	_ host.QueueInspector = (*Fake)(nil)
	_ host.QueueSubmitter = (*Fake)(nil)
	_ host.EventSource    = (*Fake)(nil)
)
