package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records write-throughs and can seed the catalog.
type fakeStore struct {
	mu     sync.Mutex
	saved  []*ToolDefinition
	seeded []*ToolDefinition
	err    error
}

func (fs *fakeStore) SaveTool(def *ToolDefinition) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.err != nil {
		return fs.err
	}
	cp := *def
	fs.saved = append(fs.saved, &cp)
	return nil
}

func (fs *fakeStore) LoadTools() ([]*ToolDefinition, error) {
	return fs.seeded, fs.err
}

func TestDefaultCatalogSeeded(t *testing.T) {
	tr := NewToolRegistry(nil)

	assert.Equal(t, 5, tr.Count())

	def, err := tr.GetDefinition("brochure_parser")
	require.NoError(t, err)
	assert.Equal(t, 30, def.CreditCost)
	assert.True(t, def.Enabled)

	def, err = tr.GetDefinition("photo_caption")
	require.NoError(t, err)
	assert.Equal(t, 5, def.CreditCost)
}

func TestGetDefinitionUnknownTool(t *testing.T) {
	tr := NewToolRegistry(nil)

	_, err := tr.GetDefinition("nonexistent_tool")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestGetDefinitionReturnsCopy(t *testing.T) {
	tr := NewToolRegistry(nil)

	def, err := tr.GetDefinition("seo_metadata")
	require.NoError(t, err)

	// Mutating the returned struct must not leak into the catalog
	def.CreditCost = 9999

	again, err := tr.GetDefinition("seo_metadata")
	require.NoError(t, err)
	assert.Equal(t, 10, again.CreditCost)
}

func TestRegisterAndUpdate(t *testing.T) {
	tr := NewToolRegistry(nil)

	err := tr.Register(&ToolDefinition{
		Name:        "floorplan_generator",
		Description: "Render a floorplan from room measurements",
		CreditCost:  40,
		Enabled:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, tr.Count())

	def, err := tr.GetDefinition("floorplan_generator")
	require.NoError(t, err)
	assert.Equal(t, 40, def.CreditCost)
	created := def.CreatedAt

	// Re-registering keeps the original creation time
	err = tr.Register(&ToolDefinition{Name: "floorplan_generator", CreditCost: 45, Enabled: true})
	require.NoError(t, err)

	def, err = tr.GetDefinition("floorplan_generator")
	require.NoError(t, err)
	assert.Equal(t, 45, def.CreditCost)
	assert.Equal(t, created, def.CreatedAt)
}

func TestRegisterRejectsNegativeCost(t *testing.T) {
	tr := NewToolRegistry(nil)

	err := tr.Register(&ToolDefinition{Name: "bad_tool", CreditCost: -1})
	assert.ErrorIs(t, err, ErrInvalidCost)
}

func TestSetEnabled(t *testing.T) {
	tr := NewToolRegistry(nil)

	require.NoError(t, tr.SetEnabled("pricing_suggestion", false))

	def, err := tr.GetDefinition("pricing_suggestion")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	require.NoError(t, tr.SetEnabled("pricing_suggestion", true))
	def, _ = tr.GetDefinition("pricing_suggestion")
	assert.True(t, def.Enabled)

	assert.ErrorIs(t, tr.SetEnabled("nope", true), ErrToolNotFound)
}

func TestSetCreditCost(t *testing.T) {
	tr := NewToolRegistry(nil)

	require.NoError(t, tr.SetCreditCost("listing_enhancer", 35))

	def, err := tr.GetDefinition("listing_enhancer")
	require.NoError(t, err)
	assert.Equal(t, 35, def.CreditCost)

	assert.ErrorIs(t, tr.SetCreditCost("listing_enhancer", -5), ErrInvalidCost)
	assert.ErrorIs(t, tr.SetCreditCost("nope", 10), ErrToolNotFound)
}

func TestSetDailyLimit(t *testing.T) {
	tr := NewToolRegistry(nil)

	require.NoError(t, tr.SetDailyLimit("photo_caption", 25))

	def, err := tr.GetDefinition("photo_caption")
	require.NoError(t, err)
	assert.Equal(t, 25, def.DailyLimit)

	// Zero removes the cap
	require.NoError(t, tr.SetDailyLimit("photo_caption", 0))
	def, _ = tr.GetDefinition("photo_caption")
	assert.Equal(t, 0, def.DailyLimit)

	assert.Error(t, tr.SetDailyLimit("photo_caption", -1))
}

func TestCatalogRehydratesFromStore(t *testing.T) {
	fs := &fakeStore{seeded: []*ToolDefinition{
		{Name: "custom_tool", CreditCost: 77, Enabled: true},
	}}

	tr := NewToolRegistry(fs)

	// Seeded catalog wins over defaults
	assert.Equal(t, 1, tr.Count())
	def, err := tr.GetDefinition("custom_tool")
	require.NoError(t, err)
	assert.Equal(t, 77, def.CreditCost)
}

func TestMutationsWriteThrough(t *testing.T) {
	fs := &fakeStore{seeded: []*ToolDefinition{
		{Name: "custom_tool", CreditCost: 77, Enabled: true},
	}}
	tr := NewToolRegistry(fs)

	require.NoError(t, tr.SetCreditCost("custom_tool", 80))
	require.NoError(t, tr.SetEnabled("custom_tool", false))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.saved, 2)
	assert.Equal(t, 80, fs.saved[0].CreditCost)
	assert.False(t, fs.saved[1].Enabled)
}

func TestStoreFailureDoesNotBlockMutation(t *testing.T) {
	fs := &fakeStore{err: errors.New("store down")}
	tr := NewToolRegistry(fs)

	// Load failed, so defaults were registered
	assert.Equal(t, 5, tr.Count())

	// Persist failure is logged, not surfaced; in-memory stays authoritative
	require.NoError(t, tr.SetCreditCost("seo_metadata", 12))
	def, err := tr.GetDefinition("seo_metadata")
	require.NoError(t, err)
	assert.Equal(t, 12, def.CreditCost)
}
