package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/upem-wims/wims-lti/domains/credentials/be/service"
)

// MemoryRepository is an in-memory implementation for tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextLMS  int64
	nextWims int64
	lms      map[int64]service.LMS
	wims     map[int64]service.WimsServer
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{lms: map[int64]service.LMS{}, wims: map[int64]service.WimsServer{}}
}

func (r *MemoryRepository) GetWims(ctx context.Context, id int64) (service.WimsServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wims[id]
	if !ok {
		return service.WimsServer{}, service.ErrNotFound
	}
	return w, nil
}

func (r *MemoryRepository) GetLMSByUUID(ctx context.Context, uuid string) (service.LMS, error) {
	return r.findLMS(func(l service.LMS) bool { return l.UUID == uuid })
}

func (r *MemoryRepository) GetLMSByKey(ctx context.Context, consumerKey string) (service.LMS, error) {
	return r.findLMS(func(l service.LMS) bool { return l.ConsumerKey == consumerKey })
}

func (r *MemoryRepository) findLMS(match func(service.LMS) bool) (service.LMS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.lms {
		if match(l) {
			return l, nil
		}
	}
	return service.LMS{}, service.ErrNotFound
}

func (r *MemoryRepository) CreateLMS(ctx context.Context, lms service.LMS) (service.LMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.lms {
		if existing.UUID == lms.UUID || existing.ConsumerKey == lms.ConsumerKey {
			return service.LMS{}, service.ErrConflict
		}
	}
	r.nextLMS++
	lms.ID = r.nextLMS
	lms.CreatedAt = time.Now().UTC()
	r.lms[lms.ID] = lms
	return lms, nil
}

func (r *MemoryRepository) CreateWims(ctx context.Context, w service.WimsServer) (service.WimsServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextWims++
	w.ID = r.nextWims
	w.CreatedAt = time.Now().UTC()
	r.wims[w.ID] = w
	return w, nil
}

func (r *MemoryRepository) ListLMS(ctx context.Context) ([]service.LMS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.LMS, 0, len(r.lms))
	for _, l := range r.lms {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) ListWims(ctx context.Context) ([]service.WimsServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.WimsServer, 0, len(r.wims))
	for _, w := range r.wims {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
