package distribution

import (
	"errors"
	"math/rand"
	"testing"

	"bothive/engine/internal/host"
	"bothive/engine/internal/host/hosttest"
)

func newSampler(t *testing.T) *Sampler {
	t.Helper()
	sampler, err := NewSampler(hosttest.New())
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}
	return sampler
}

func TestSampleIdentityHonorsFaction(t *testing.T) {
	sampler := newSampler(t)
	rng := rand.New(rand.NewSource(3))
	horde := host.FactionHorde
	for i := 0; i < 50; i++ {
		identity, err := sampler.SampleIdentity(Constraints{Faction: &horde}, rng)
		if err != nil {
			t.Fatalf("sample failed: %v", err)
		}
		if identity.Faction != host.FactionHorde {
			t.Fatalf("expected horde identity, got %s", identity.Faction)
		}
		if identity.Name == "" {
			t.Fatalf("expected generated name")
		}
	}
}

func TestSampleIdentityHonorsRole(t *testing.T) {
	sampler := newSampler(t)
	rng := rand.New(rand.NewSource(8))
	tank := host.RoleTank
	for i := 0; i < 50; i++ {
		identity, err := sampler.SampleIdentity(Constraints{Role: &tank}, rng)
		if err != nil {
			t.Fatalf("sample failed: %v", err)
		}
		found := false
		for _, class := range sampler.ClassesForRole(host.RoleTank) {
			if identity.Class == class {
				found = true
			}
		}
		if !found {
			t.Fatalf("class %d cannot tank", identity.Class)
		}
	}
}

func TestSampleIdentityUnsatisfiable(t *testing.T) {
	sampler := newSampler(t)
	tank := host.RoleTank
	// Mage has no tank spec in the catalog.
	_, err := sampler.SampleIdentity(Constraints{Class: hosttest.ClassMage, Role: &tank}, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected ErrUnsatisfiable, got %v", err)
	}
}

func TestSelectSpecByRole(t *testing.T) {
	sampler := newSampler(t)
	healer := host.RoleHealer
	spec, err := sampler.SelectSpec(hosttest.ClassDruid, &healer, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if spec.Role != host.RoleHealer {
		t.Fatalf("expected healer spec, got %s", spec.Role)
	}
}

func TestSecondarySpecPrefersOtherRole(t *testing.T) {
	sampler := newSampler(t)
	primary, err := sampler.SelectSpec(hosttest.ClassWarrior, nil, nil)
	if err != nil {
		t.Fatalf("primary select failed: %v", err)
	}
	secondary, ok := sampler.SelectSecondarySpec(hosttest.ClassWarrior, primary, rand.New(rand.NewSource(6)))
	if !ok {
		t.Fatalf("expected secondary spec for warrior")
	}
	if secondary.Role == primary.Role {
		t.Fatalf("expected complementary role, got %s twice", primary.Role)
	}
}

func TestSecondarySpecSingleSpecClass(t *testing.T) {
	sampler := newSampler(t)
	primary, err := sampler.SelectSpec(hosttest.ClassMage, nil, nil)
	if err != nil {
		t.Fatalf("primary select failed: %v", err)
	}
	if _, ok := sampler.SelectSecondarySpec(hosttest.ClassMage, primary, nil); ok {
		t.Fatalf("mage has a single spec; no secondary expected")
	}
}

func TestNamesUnique(t *testing.T) {
	sampler := newSampler(t)
	rng := rand.New(rand.NewSource(12))
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		identity, err := sampler.SampleIdentity(Constraints{}, rng)
		if err != nil {
			t.Fatalf("sample failed: %v", err)
		}
		if seen[identity.Name] {
			t.Fatalf("duplicate name %q", identity.Name)
		}
		seen[identity.Name] = true
	}
}
