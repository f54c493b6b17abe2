package pipeline

import (
	"context"
	"fmt"

	"bothive/engine/internal/host"
	"bothive/engine/internal/talent"
	"bothive/engine/logging"
	"bothive/engine/logging/lifecycle"
)

// apply runs phase two on the main thread. The host owns rollback: a
// failure partway leaves already-applied mutations in place, sets
// Result.Bot so the caller can terminate the partial entity, and aborts
// the remaining steps.
func (p *Pipeline) apply(task *Task) Result {
	prep := task.prepared
	mutator := p.deps.Mutator
	res := Result{
		TaskID:  task.ID,
		Level:   prep.Level,
		Class:   prep.Identity.Class,
		Faction: prep.Identity.Faction,
		ZoneID:  prep.Placement.ZoneID,
	}

	id, err := mutator.CreateCharacter(prep.Identity)
	if err != nil {
		res.Err = fmt.Errorf("create character: %w", err)
		return res
	}
	res.Bot = id

	if prep.Level > 1 {
		if err := mutator.GiveLevel(id, prep.Level); err != nil {
			res.Err = fmt.Errorf("give level: %w", err)
			return res
		}
	}

	if err := p.applySpecs(id, prep); err != nil {
		res.Err = err
		return res
	}
	if err := p.applyGear(id, prep); err != nil {
		res.Err = err
		return res
	}

	if err := mutator.Teleport(id, prep.Placement.Position()); err != nil {
		res.Err = fmt.Errorf("teleport: %w", err)
		return res
	}
	if err := mutator.Save(id); err != nil {
		res.Err = fmt.Errorf("save: %w", err)
		return res
	}

	p.deps.Levels.Increment(prep.Level, prep.Identity.Faction)
	lifecycle.BotCreated(context.Background(), p.deps.Publisher, p.tick.Load(),
		logging.BotRef(uint64(id)), lifecycle.BotCreatedPayload{
			Level:   prep.Level,
			Class:   prep.Identity.Class,
			Faction: prep.Identity.Faction.String(),
			ZoneID:  prep.Placement.ZoneID,
		}, nil)
	return res
}

func (p *Pipeline) applySpecs(id host.EntityID, prep *Prepared) error {
	mutator := p.deps.Mutator
	if err := mutator.SetSpecialization(id, prep.Primary.Spec, 0); err != nil {
		return fmt.Errorf("set primary spec: %w", err)
	}
	if err := learnLoadout(mutator, id, prep.PrimaryTalents); err != nil {
		return err
	}
	if prep.Secondary == nil {
		return nil
	}
	if err := mutator.SetSpecialization(id, prep.Secondary.Spec, 1); err != nil {
		return fmt.Errorf("set secondary spec: %w", err)
	}
	if err := mutator.ActivateSpecSlot(id, 1); err != nil {
		return fmt.Errorf("activate secondary slot: %w", err)
	}
	if err := learnLoadout(mutator, id, prep.SecondaryTalents); err != nil {
		return err
	}
	if err := mutator.ActivateSpecSlot(id, 0); err != nil {
		return fmt.Errorf("reactivate primary slot: %w", err)
	}
	return nil
}

func learnLoadout(mutator host.EntityMutator, id host.EntityID, loadout *talent.Loadout) error {
	if loadout == nil {
		return nil
	}
	for _, talentID := range loadout.Talents {
		if err := mutator.LearnTalent(id, talentID); err != nil {
			return fmt.Errorf("learn talent %d: %w", talentID, err)
		}
	}
	for _, talentID := range loadout.HeroTalents {
		if err := mutator.LearnTalent(id, talentID); err != nil {
			return fmt.Errorf("learn hero talent %d: %w", talentID, err)
		}
	}
	return nil
}

func (p *Pipeline) applyGear(id host.EntityID, prep *Prepared) error {
	mutator := p.deps.Mutator
	for _, slot := range host.EquipSlots {
		item, ok := prep.Gear.Slots[slot]
		if !ok {
			continue
		}
		if err := mutator.CreateAndEquip(id, slot, item); err != nil {
			return fmt.Errorf("equip %s: %w", slot, err)
		}
	}
	for _, bag := range prep.Gear.Bags {
		if err := mutator.AddItem(id, bag, 1); err != nil {
			return fmt.Errorf("add bag: %w", err)
		}
	}
	for item, count := range prep.Gear.Consumables {
		if err := mutator.AddItem(id, item, count); err != nil {
			return fmt.Errorf("add consumable %d: %w", item, err)
		}
	}
	return nil
}
