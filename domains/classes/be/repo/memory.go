package repo

import (
	"context"
	"sync"
	"time"

	"github.com/upem-wims/wims-lti/domains/classes/be/service"
)

type classKey struct {
	lmsID     int64
	contextID string
}

type linkKey struct {
	classID        int64
	resourceLinkID string
}

// MemoryRepository is an in-memory implementation enforcing the same unique keys as Postgres.
type MemoryRepository struct {
	mu           sync.RWMutex
	nextClass    int64
	nextActivity int64
	classes      map[classKey]service.Class
	activities   map[linkKey]service.Activity
	outcomes     map[linkKey]service.Outcome
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		classes:    map[classKey]service.Class{},
		activities: map[linkKey]service.Activity{},
		outcomes:   map[linkKey]service.Outcome{},
	}
}

func (r *MemoryRepository) FindClass(ctx context.Context, lmsID int64, contextID string) (service.Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[classKey{lmsID, contextID}]
	if !ok {
		return service.Class{}, service.ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) InsertClass(ctx context.Context, c service.Class) (service.Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := classKey{c.LMSID, c.LMSContextID}
	if _, ok := r.classes[key]; ok {
		return service.Class{}, service.ErrConflict
	}
	r.nextClass++
	c.ID = r.nextClass
	c.CreatedAt = time.Now().UTC()
	r.classes[key] = c
	return c, nil
}

func (r *MemoryRepository) FindActivity(ctx context.Context, classID int64, resourceLinkID string) (service.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[linkKey{classID, resourceLinkID}]
	if !ok {
		return service.Activity{}, service.ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) InsertActivity(ctx context.Context, a service.Activity) (service.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := linkKey{a.ClassID, a.ResourceLinkID}
	if _, ok := r.activities[key]; ok {
		return service.Activity{}, service.ErrConflict
	}
	r.nextActivity++
	a.ID = r.nextActivity
	a.CreatedAt = time.Now().UTC()
	r.activities[key] = a
	return a, nil
}

func (r *MemoryRepository) UpsertOutcome(ctx context.Context, o service.Outcome) (service.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.UpdatedAt = time.Now().UTC()
	r.outcomes[linkKey{o.ClassID, o.ResourceLinkID}] = o
	return o, nil
}

// Outcome returns the stored outcome of a resource link, for inspection.
func (r *MemoryRepository) Outcome(classID int64, resourceLinkID string) (service.Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outcomes[linkKey{classID, resourceLinkID}]
	return o, ok
}

// ClassCount returns how many class bindings exist.
func (r *MemoryRepository) ClassCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}
