// internal/storage/memory_store.go
package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

// MemoryStore 进程内存储，主要用于测试和临时运行
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*models.Instance
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[uuid.UUID]*models.Instance)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, inst *models.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := prepareCreate(inst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[c.ID]; exists {
		return ErrExists
	}
	s.instances[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) Apply(ctx context.Context, id uuid.UUID, change Change) (*models.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := applyChange(next, change); err != nil {
		return nil, err
	}
	s.instances[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.Instance, 0)
	for _, inst := range s.instances {
		if inst.WorldID == worldID {
			list = append(list, inst.Clone())
		}
	}
	sortByCreation(list)
	return list, nil
}

func (s *MemoryStore) Close() error { return nil }
