package config

import (
	"fmt"
	"sync"
)

// Registry holds the live, mutable tunables plus the factory snapshot
// taken at construction. Operators mutate the live copy via SetValue;
// Snapshot returns a deep copy used for exactly one run, satisfying
// spec.md's "a run executes entirely against its snapshot; later edits
// by operators do not affect in-flight runs".
type Registry struct {
	mu      sync.RWMutex
	current Defaults
	factory Defaults
}

// NewRegistry builds a registry seeded with the factory defaults.
func NewRegistry() *Registry {
	d := FactoryDefaults()
	return &Registry{current: d, factory: d}
}

// Snapshot returns an immutable copy of the current tunables.
func (r *Registry) Snapshot() Defaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneDefaults(r.current)
}

// Reset restores the factory snapshot captured at registry construction
// (spec.md §8: "reset_config() restores the factory snapshot captured
// at module load").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = cloneDefaults(r.factory)
}

// SetValue mutates a single named tunable. Supported keys are the int
// and string keys of Metadata; the duration-typed keys are rejected as
// not mutable, as are step_timeouts and the buyer-type maps. Returns an
// error for unknown keys or wrong-typed values rather than silently
// ignoring them.
func (r *Registry) SetValue(key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch key {
	case "max_secondary_buyers":
		v, err := asInt(value)
		if err != nil {
			return err
		}
		r.current.MaxSecondaryBuyers = v
	case "max_concurrent_runs":
		v, err := asInt(value)
		if err != nil {
			return err
		}
		r.current.MaxConcurrentRuns = v
	case "opportunity_page_size":
		v, err := asInt(value)
		if err != nil {
			return err
		}
		r.current.OpportunityPageSize = v
	case "buyer_search_page_size":
		v, err := asInt(value)
		if err != nil {
			return err
		}
		r.current.BuyerSearchPageSize = v
	case "dedup_lookback_limit":
		v, err := asInt(value)
		if err != nil {
			return err
		}
		r.current.DedupLookbackLimit = v
	case "publisher_tool_alias":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("config: %s requires a string value", key)
		}
		r.current.PublisherToolAlias = v
	default:
		if _, ok := Metadata[key]; !ok {
			return fmt.Errorf("config: unknown key %q", key)
		}
		return fmt.Errorf("config: key %q is not mutable at runtime", key)
	}
	return nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("config: expected integer value, got %T", value)
	}
}

func cloneDefaults(d Defaults) Defaults {
	out := d
	out.BuyerTypeEmoji = make(map[string]string, len(d.BuyerTypeEmoji))
	for k, v := range d.BuyerTypeEmoji {
		out.BuyerTypeEmoji[k] = v
	}
	out.BuyerTypeLabel = make(map[string]string, len(d.BuyerTypeLabel))
	for k, v := range d.BuyerTypeLabel {
		out.BuyerTypeLabel[k] = v
	}
	return out
}
