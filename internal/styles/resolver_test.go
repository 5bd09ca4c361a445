package styles

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/models"
)

type memContexts struct {
	byID map[uuid.UUID]*models.StyleContext
}

func (m *memContexts) GetByID(_ context.Context, id uuid.UUID) (*models.StyleContext, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("style context %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func newTestResolver(contexts ...*models.StyleContext) *Resolver {
	store := &memContexts{byID: make(map[uuid.UUID]*models.StyleContext)}
	for _, c := range contexts {
		store.byID[c.ID] = c
	}
	return NewResolver(DefaultRegistry(), store, nil)
}

func TestResolveRoundTrip(t *testing.T) {
	r := newTestResolver()
	ctx := context.Background()

	for _, pkg := range []string{PackageHeadshot, PackageAvatar} {
		settings, err := r.Resolve(ctx, pkg, nil, nil)
		if err != nil {
			t.Fatalf("%s: Resolve defaults: %v", pkg, err)
		}
		raw, err := r.Serialize(settings)
		if err != nil {
			t.Fatalf("%s: Serialize: %v", pkg, err)
		}
		again, err := r.Resolve(ctx, pkg, nil, raw)
		if err != nil {
			t.Fatalf("%s: Resolve(serialized): %v", pkg, err)
		}
		if settings != again {
			t.Errorf("%s: round-trip mismatch:\n first: %#v\nsecond: %#v", pkg, settings, again)
		}
	}
}

func TestResolvePartialSettingsFallBackPerField(t *testing.T) {
	r := newTestResolver()

	// Only two fields stored; the rest come from package defaults.
	raw := json.RawMessage(`{"background":"office-blur","lighting":"dramatic"}`)
	settings, err := r.Resolve(context.Background(), PackageHeadshot, nil, raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	hs := settings.(HeadshotSettings)
	if hs.Background != "office-blur" || hs.Lighting != "dramatic" {
		t.Errorf("stored fields not applied: %#v", hs)
	}
	defaults := HeadshotAdapter{}.Defaults().(HeadshotSettings)
	if hs.Attire != defaults.Attire || hs.Framing != defaults.Framing {
		t.Errorf("missing fields should use defaults: %#v", hs)
	}
}

func TestResolveLegacyShapeDegradesToDefaults(t *testing.T) {
	r := newTestResolver()

	// A legacy blob with an incompatible shape degrades to full defaults
	// instead of failing the generation.
	for _, raw := range []json.RawMessage{
		json.RawMessage(`["old","array","format"]`),
		json.RawMessage(`{"variations":"four"}`),
		json.RawMessage(`not json at all`),
	} {
		settings, err := r.Resolve(context.Background(), PackageAvatar, nil, raw)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", raw, err)
		}
		if settings != (AvatarAdapter{}).Defaults() {
			t.Errorf("Resolve(%s): got %#v, want defaults", raw, settings)
		}
	}
}

func TestResolveStoredContext(t *testing.T) {
	stored := &models.StyleContext{
		ID:        uuid.New(),
		Ownership: models.ContextOwnershipPersonal,
		PackageID: PackageHeadshot,
		Name:      "my linkedin look",
		Settings:  json.RawMessage(`{"attire":"formal-suit"}`),
	}
	r := newTestResolver(stored)

	settings, err := r.Resolve(context.Background(), PackageHeadshot, &stored.ID, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if settings.(HeadshotSettings).Attire != "formal-suit" {
		t.Errorf("stored override not applied: %#v", settings)
	}

	// Referencing a context from the wrong package is a hard error.
	if _, err := r.Resolve(context.Background(), PackageAvatar, &stored.ID, nil); err == nil {
		t.Error("expected package mismatch error")
	}
}

func TestResolveUnknownPackage(t *testing.T) {
	r := newTestResolver()
	if _, err := r.Resolve(context.Background(), "poster", nil, nil); err == nil {
		t.Error("expected unknown package error")
	}
}
