package registry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Errors returned by registry operations.
var (
	ErrToolNotFound = errors.New("tool not found")
	ErrInvalidCost  = errors.New("credit cost must be >= 0")
)

// ToolDefinition is one invocable AI capability in the catalog.
// CreditCost is read once per invocation and is immutable for that
// invocation; admin updates take effect on the next call.
type ToolDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreditCost  int       `json:"credit_cost"`
	Enabled     bool      `json:"enabled"`
	DailyLimit  int       `json:"daily_limit,omitempty"` // 0 = unlimited
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists tool definitions. The registry writes through on every
// mutation so a restarted pod rehydrates the same catalog.
type Store interface {
	SaveTool(def *ToolDefinition) error
	LoadTools() ([]*ToolDefinition, error)
}

// ToolRegistry is the admin-editable catalog of AI tools and their credit
// costs. Tools are never deleted at runtime, only disabled.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*ToolDefinition
	store  Store
	logger *log.Logger
}

// NewToolRegistry creates a registry seeded from the store. If the store is
// nil or empty the built-in defaults are registered instead.
func NewToolRegistry(store Store) *ToolRegistry {
	tr := &ToolRegistry{
		tools:  make(map[string]*ToolDefinition),
		store:  store,
		logger: log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}

	if store != nil {
		if defs, err := store.LoadTools(); err != nil {
			tr.logger.Printf("⚠️  Failed to load tools from store: %v", err)
		} else {
			for _, def := range defs {
				tr.tools[def.Name] = def
			}
		}
	}

	if len(tr.tools) == 0 {
		tr.registerDefaults()
	}

	tr.logger.Printf("Catalog ready: %d tools", len(tr.tools))
	return tr
}

func (tr *ToolRegistry) registerDefaults() {
	defaults := []*ToolDefinition{
		{
			Name:        "brochure_parser",
			Description: "Extract listing fields from an uploaded property brochure",
			CreditCost:  30,
			Enabled:     true,
		},
		{
			Name:        "listing_enhancer",
			Description: "Rewrite a listing description for clarity and appeal",
			CreditCost:  20,
			Enabled:     true,
		},
		{
			Name:        "pricing_suggestion",
			Description: "Suggest an asking price from comparable listings",
			CreditCost:  50,
			Enabled:     true,
		},
		{
			Name:        "seo_metadata",
			Description: "Generate SEO title and meta description for a listing page",
			CreditCost:  10,
			Enabled:     true,
		},
		{
			Name:        "photo_caption",
			Description: "Caption listing photos for accessibility and search",
			CreditCost:  5,
			Enabled:     true,
		},
	}

	now := time.Now()
	for _, def := range defaults {
		def.CreatedAt = now
		def.UpdatedAt = now
		tr.tools[def.Name] = def
	}
}

// GetDefinition retrieves a tool by name. Unknown names fail with
// ErrToolNotFound rather than defaulting.
func (tr *ToolRegistry) GetDefinition(name string) (*ToolDefinition, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	def, ok := tr.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	cp := *def
	return &cp, nil
}

// Register adds or updates a tool in the catalog.
func (tr *ToolRegistry) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.CreditCost < 0 {
		return ErrInvalidCost
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	if existing, ok := tr.tools[def.Name]; ok {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	tr.tools[def.Name] = def

	tr.persist(def)
	tr.logger.Printf("📦 Registered tool: %s (cost=%d, enabled=%v)", def.Name, def.CreditCost, def.Enabled)
	return nil
}

// SetEnabled flips a tool's enablement flag. Disabled tools reject all
// invocations regardless of balance.
func (tr *ToolRegistry) SetEnabled(name string, enabled bool) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	def, ok := tr.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	def.Enabled = enabled
	def.UpdatedAt = time.Now()

	tr.persist(def)
	tr.logger.Printf("Tool %s enabled=%v", name, enabled)
	return nil
}

// SetCreditCost updates a tool's per-invocation credit cost.
func (tr *ToolRegistry) SetCreditCost(name string, cost int) error {
	if cost < 0 {
		return ErrInvalidCost
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	def, ok := tr.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	def.CreditCost = cost
	def.UpdatedAt = time.Now()

	tr.persist(def)
	tr.logger.Printf("Tool %s cost=%d", name, cost)
	return nil
}

// SetDailyLimit updates a tool's per-user daily invocation cap. Zero
// removes the cap.
func (tr *ToolRegistry) SetDailyLimit(name string, limit int) error {
	if limit < 0 {
		return fmt.Errorf("daily limit must be >= 0")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	def, ok := tr.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	def.DailyLimit = limit
	def.UpdatedAt = time.Now()

	tr.persist(def)
	tr.logger.Printf("Tool %s daily_limit=%d", name, limit)
	return nil
}

// ListAll returns all registered tools. Order is unspecified; the result is
// used purely for display.
func (tr *ToolRegistry) ListAll() []*ToolDefinition {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	result := make([]*ToolDefinition, 0, len(tr.tools))
	for _, def := range tr.tools {
		cp := *def
		result = append(result, &cp)
	}
	return result
}

// Count returns the number of registered tools.
func (tr *ToolRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tools)
}

// persist writes through to the store. Store failures are logged, not
// surfaced: the in-memory catalog stays authoritative for this process.
func (tr *ToolRegistry) persist(def *ToolDefinition) {
	if tr.store == nil {
		return
	}
	if err := tr.store.SaveTool(def); err != nil {
		tr.logger.Printf("⚠️  Failed to persist tool %s: %v", def.Name, err)
	}
}
