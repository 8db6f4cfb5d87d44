package transform

import (
	"sort"
	"sync"

	"github.com/rulewire/rulewire/pkg/schema"
)

// Func is a user-registered transform. It receives the current field value,
// the step params from the rule set, and the whole record for context.
type Func func(value any, params map[string]any, record map[string]any) (any, error)

// Registry is the thread-safe custom transform registry. It is populated at
// pipeline construction and read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		transforms: make(map[string]Func),
	}
}

// Register adds a transform to the registry. Returns error on duplicate or
// builtin-shadowing name.
func (r *Registry) Register(name string, fn Func) error {
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "transform func is nil")
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform name is empty")
	}
	if IsBuiltin(name) {
		return schema.NewErrorf(schema.ErrCodeConflict, "transform %q shadows a builtin", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transforms[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "transform %q already registered", name)
	}

	r.transforms[name] = fn
	return nil
}

// Get retrieves a transform by name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.transforms[name]
	return fn, ok
}

// Has checks if a transform is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.transforms[name]
	return ok
}

// Names returns all registered transform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
