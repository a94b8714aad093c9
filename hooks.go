package docent

import (
	"context"
	"fmt"
	"sync"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
)

// HookType identifies a lifecycle event on the save and delete paths.
type HookType int

const (
	BeforeSave HookType = iota
	AfterSave
	BeforeDelete
	AfterDelete
)

// String returns the string representation of the hook type.
func (h HookType) String() string {
	switch h {
	case BeforeSave:
		return "before_save"
	case AfterSave:
		return "after_save"
	case BeforeDelete:
		return "before_delete"
	case AfterDelete:
		return "after_delete"
	default:
		return "unknown"
	}
}

// HookFunc is a lifecycle callback. Before* hooks run before the write and
// may mutate the record; returning an error aborts the operation. After*
// hooks run once the write has happened, so their errors surface to the
// caller but cannot undo it.
type HookFunc func(ctx context.Context, rec *record.Record) error

// hookSet keeps registered hooks per type name. Hooks registered on a parent
// type fire for its subtypes too, parents first.
type hookSet struct {
	mu     sync.RWMutex
	byType map[string]map[HookType][]HookFunc
}

func newHookSet() *hookSet {
	return &hookSet{byType: make(map[string]map[HookType][]HookFunc)}
}

func (h *hookSet) add(typeName string, hook HookType, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byHook := h.byType[typeName]
	if byHook == nil {
		byHook = make(map[HookType][]HookFunc)
		h.byType[typeName] = byHook
	}
	byHook[hook] = append(byHook[hook], fn)
}

// collect gathers the callbacks to fire for a record's type: its inheritance
// chain from the root ancestor down, registration order within each type.
func (h *hookSet) collect(hook HookType, typ *schema.Type) []HookFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var fns []HookFunc
	for _, name := range lineage(typ) {
		fns = append(fns, h.byType[name][hook]...)
	}
	return fns
}

// run fires the hooks for rec's type. The first error stops the chain.
func (h *hookSet) run(ctx context.Context, hook HookType, rec *record.Record) error {
	for _, fn := range h.collect(hook, rec.Type()) {
		if err := fn(ctx, rec); err != nil {
			return fmt.Errorf("%s hook for %s: %w", hook, rec.TypeName(), err)
		}
	}
	return nil
}

// lineage returns the type names from the root ancestor down to t itself.
func lineage(t *schema.Type) []string {
	var names []string
	for cur := t; cur != nil; {
		names = append(names, cur.Name())
		if cur.ParentName() == "" || !cur.Registered() {
			break
		}
		next, err := cur.Registry().Resolve(cur.ParentName())
		if err != nil {
			break
		}
		cur = next
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
