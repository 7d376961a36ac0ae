// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/config"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

var (
	// ErrNotFound 实例不存在
	ErrNotFound = errors.New("instance not found")
	// ErrConflict 版本不匹配，实例已被其他写入修改
	ErrConflict = errors.New("instance version conflict")
	// ErrExists 实例ID已存在
	ErrExists = errors.New("instance already exists")
)

// Change 对实例的一次原子修改：替换阶段与人格状态，并在日志末尾追加条目
type Change struct {
	ExpectedVersion int64
	Phase           int
	Persona         models.PersonaState
	Entries         []models.LogEntry
	UpdatedAt       time.Time
}

// Store 意识实例的持久化接口
//
// 所有实现都必须保证：返回的实例是副本；Apply 在版本不匹配时返回 ErrConflict
// 且不做任何修改；日志只追加不重排。
type Store interface {
	Create(ctx context.Context, inst *models.Instance) error
	Get(ctx context.Context, id uuid.UUID) (*models.Instance, error)
	Apply(ctx context.Context, id uuid.UUID, change Change) (*models.Instance, error)
	ListByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Instance, error)
	Close() error
}

// Open 根据配置打开存储
func Open(cfg *config.AppConfig) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return NewMemoryStore(), nil
	case config.StoreDriverFile:
		return NewFileStore(cfg.DataDir)
	case config.StoreDriverSQLite:
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %q", cfg.StoreDriver)
	}
}

// applyChange 在内存中的副本上执行修改，由各实现在持有锁时调用
func applyChange(inst *models.Instance, change Change) error {
	if inst.Version != change.ExpectedVersion {
		return fmt.Errorf("%w: expected %d, have %d", ErrConflict, change.ExpectedVersion, inst.Version)
	}
	inst.CurrentPhase = change.Phase
	inst.Persona = change.Persona
	inst.Log = append(inst.Log, change.Entries...)
	inst.Version++
	inst.UpdatedAt = change.UpdatedAt
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// prepareCreate 校验新实例并补齐版本号
func prepareCreate(inst *models.Instance) (*models.Instance, error) {
	if inst == nil || inst.ID == uuid.Nil {
		return nil, fmt.Errorf("实例ID不能为空")
	}
	c := inst.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c, nil
}

// sortByCreation 按创建时间排序，同一时间按ID排序
func sortByCreation(list []*models.Instance) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}
