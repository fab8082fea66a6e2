package devserver

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrNotFound        = errors.New("record not found")
)

// Record is a schemaless resource record. The server maintains the "id",
// "createdAt" and "updatedAt" fields.
type Record map[string]any

type collection struct {
	order   []string
	records map[string]Record
}

// Store keeps records in memory, in creation order per resource.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	now         func() time.Time
}

func NewStore(resources ...string) *Store {
	s := &Store{
		collections: make(map[string]*collection, len(resources)),
		now:         time.Now,
	}
	for _, name := range resources {
		s.collections[name] = &collection{records: map[string]Record{}}
	}
	return s
}

// List returns one page of records and the total number of records. Pages
// start at 1.
func (s *Store) List(resource string, page, limit int) ([]Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[resource]
	if !ok {
		return nil, 0, ErrUnknownResource
	}

	total := len(c.order)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	records := make([]Record, 0, end-start)
	for _, id := range c.order[start:end] {
		records = append(records, maps.Clone(c.records[id]))
	}

	return records, total, nil
}

func (s *Store) Get(resource, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[resource]
	if !ok {
		return nil, ErrUnknownResource
	}

	r, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(r), nil
}

func (s *Store) Create(resource string, fields map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[resource]
	if !ok {
		return nil, ErrUnknownResource
	}

	now := s.now().UTC()
	r := Record(maps.Clone(fields))
	if r == nil {
		r = Record{}
	}
	r["id"] = uuid.NewString()
	r["createdAt"] = now
	r["updatedAt"] = now

	id := r["id"].(string)
	c.records[id] = r
	c.order = append(c.order, id)

	return maps.Clone(r), nil
}

// Update merges fields into the record. Server maintained fields cannot be
// overwritten.
func (s *Store) Update(resource, id string, fields map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[resource]
	if !ok {
		return nil, ErrUnknownResource
	}

	r, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	for k, v := range fields {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		r[k] = v
	}
	r["updatedAt"] = s.now().UTC()

	return maps.Clone(r), nil
}

func (s *Store) Delete(resource, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[resource]
	if !ok {
		return nil, ErrUnknownResource
	}

	r, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	delete(c.records, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	return r, nil
}
