package mapping

import (
	"sort"
	"sync"

	"github.com/rulewire/rulewire/pkg/schema"
)

// MapperFunc is a user-registered custom mapper. It receives the whole
// source response and the rule's config block.
type MapperFunc func(source map[string]any, config map[string]any) (any, error)

// Registry is the thread-safe custom mapper registry. It is populated at
// pipeline construction and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]MapperFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mappers: make(map[string]MapperFunc),
	}
}

// Register adds a mapper to the registry. Returns error on duplicate name.
func (r *Registry) Register(name string, fn MapperFunc) error {
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "mapper func is nil")
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "mapper name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mappers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "mapper %q already registered", name)
	}

	r.mappers[name] = fn
	return nil
}

// Get retrieves a mapper by name.
func (r *Registry) Get(name string) (MapperFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.mappers[name]
	return fn, ok
}

// Has checks if a mapper is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mappers[name]
	return ok
}

// Names returns all registered mapper names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mappers))
	for name := range r.mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
