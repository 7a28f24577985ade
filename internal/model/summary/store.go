package summary

// Store exposes summary lookup for handlers and the assistant.
type Store interface {
	List() []Summary
	FindByID(id string) (Summary, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Summary
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied summaries.
func NewMemoryStore(items []Summary) *MemoryStore {
	return &MemoryStore{items: append([]Summary(nil), items...)}
}

// List returns every known summary.
func (s *MemoryStore) List() []Summary {
	return append([]Summary(nil), s.items...)
}

// FindByID looks up a summary by identifier.
func (s *MemoryStore) FindByID(id string) (Summary, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Summary{}, false
}
