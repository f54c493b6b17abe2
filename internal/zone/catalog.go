package zone

import "bothive/engine/internal/host"

// DefaultPlacements is the built-in catalog used when no placement file is
// configured. It covers both factions across the full level range.
func DefaultPlacements() []Placement {
	alliance := []host.Faction{host.FactionAlliance}
	horde := []host.Faction{host.FactionHorde}
	return []Placement{
		mustPlace(Placement{ZoneID: 12, MapID: 0, Name: "Elwynn Forest", X: -8914, Y: -133, Z: 80, Factions: alliance, MinLevel: 1, MaxLevel: 10, Category: CategoryStarter}),
		mustPlace(Placement{ZoneID: 14, MapID: 1, Name: "Durotar", X: -618, Y: -4251, Z: 38, Factions: horde, MinLevel: 1, MaxLevel: 10, Category: CategoryStarter}),
		mustPlace(Placement{ZoneID: 1519, MapID: 0, Name: "Stormwind City", X: -8833, Y: 628, Z: 94, Factions: alliance, MinLevel: 1, MaxLevel: 80, Category: CategoryCapital}),
		mustPlace(Placement{ZoneID: 1637, MapID: 1, Name: "Orgrimmar", X: 1633, Y: -4439, Z: 15, Factions: horde, MinLevel: 1, MaxLevel: 80, Category: CategoryCapital}),
		mustPlace(Placement{ZoneID: 40, MapID: 0, Name: "Westfall", X: -10684, Y: 1033, Z: 32, Factions: alliance, MinLevel: 10, MaxLevel: 20, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 17, MapID: 1, Name: "The Barrens", X: -444, Y: -2598, Z: 95, Factions: horde, MinLevel: 10, MaxLevel: 25, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 33, MapID: 0, Name: "Stranglethorn Vale", X: -11921, Y: -59, Z: 39, MinLevel: 30, MaxLevel: 45, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 3, MapID: 0, Name: "Badlands", X: -6782, Y: -3128, Z: 240, MinLevel: 35, MaxLevel: 45, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 139, MapID: 0, Name: "Eastern Plaguelands", X: 2280, Y: -5275, Z: 82, MinLevel: 53, MaxLevel: 60, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 3483, MapID: 530, Name: "Hellfire Peninsula", X: -248, Y: 955, Z: 84, MinLevel: 58, MaxLevel: 63, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 3711, MapID: 530, Name: "Nagrand", X: -1595, Y: 7932, Z: -22, MinLevel: 64, MaxLevel: 70, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 495, MapID: 571, Name: "Howling Fjord", X: 591, Y: -5101, Z: 5, MinLevel: 68, MaxLevel: 74, Category: CategoryLeveling}),
		mustPlace(Placement{ZoneID: 210, MapID: 571, Name: "Icecrown", X: 6163, Y: 2102, Z: 508, MinLevel: 77, MaxLevel: 80, Category: CategoryEndgame}),
		mustPlace(Placement{ZoneID: 65, MapID: 571, Name: "Dragonblight", X: 2917, Y: 1550, Z: 212, MinLevel: 71, MaxLevel: 80, Category: CategoryEndgame}),
	}
}

func mustPlace(p Placement) Placement {
	if p.ZoneID == 0 || p.MinLevel > p.MaxLevel {
		panic("zone: invalid built-in placement")
	}
	return p
}
