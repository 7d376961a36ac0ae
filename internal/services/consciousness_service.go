// internal/services/consciousness_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/engine"
	apperrors "github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/errors"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/patterns"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/storage"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

const (
	// DefaultThoughtLimit 思绪列表默认返回条数
	DefaultThoughtLimit = 10

	defaultEngineTimeout = 5 * time.Second
	defaultStoreTimeout  = 5 * time.Second

	// 版本冲突时的最大尝试次数
	maxApplyAttempts = 2
)

// ThoughtPublisher 接收新追加的日志条目，用于实时推送
type ThoughtPublisher interface {
	Publish(instanceID uuid.UUID, entries []models.LogEntry)
}

// ThoughtJournal 日志条目的归档
type ThoughtJournal interface {
	Append(instanceID, worldID uuid.UUID, entries []models.LogEntry) error
}

// Dependencies 构造 ConsciousnessService 所需的组件
type Dependencies struct {
	Catalog   *patterns.Catalog
	Engine    engine.Engine
	Store     storage.Store
	Locks     *LockManager
	Journal   ThoughtJournal   // 可选
	Publisher ThoughtPublisher // 可选
	Metrics   *utils.APIMetrics
	Logger    *utils.Logger

	EngineTimeout time.Duration
	StoreTimeout  time.Duration
}

// ConsciousnessService 意识实例的生成、查询与互动
type ConsciousnessService struct {
	catalog   *patterns.Catalog
	engine    engine.Engine
	store     storage.Store
	locks     *LockManager
	journal   ThoughtJournal
	publisher ThoughtPublisher
	metrics   *utils.APIMetrics
	logger    *utils.Logger

	engineTimeout time.Duration
	storeTimeout  time.Duration

	now   func() time.Time
	newID func() uuid.UUID
}

// NewConsciousnessService 创建服务，Catalog/Engine/Store/Locks 必须提供
func NewConsciousnessService(deps Dependencies) (*ConsciousnessService, error) {
	if deps.Catalog == nil || deps.Engine == nil || deps.Store == nil || deps.Locks == nil {
		return nil, fmt.Errorf("意识服务缺少必要依赖")
	}

	s := &ConsciousnessService{
		catalog:       deps.Catalog,
		engine:        deps.Engine,
		store:         deps.Store,
		locks:         deps.Locks,
		journal:       deps.Journal,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		engineTimeout: deps.EngineTimeout,
		storeTimeout:  deps.StoreTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.New,
	}
	if s.metrics == nil {
		s.metrics = utils.NewAPIMetrics(nil, nil)
	}
	if s.logger == nil {
		s.logger = utils.NewNopLogger()
	}
	if s.engineTimeout <= 0 {
		s.engineTimeout = defaultEngineTimeout
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	return s, nil
}

// Spawn 根据模式生成一个新的意识实例并持久化
func (s *ConsciousnessService) Spawn(ctx context.Context, req *models.SpawnRequest) (*models.SpawnResponse, error) {
	start := time.Now()

	pattern, ok := s.catalog.Lookup(req.PatternSeed)
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Unknown pattern: %s", req.PatternSeed), nil)
	}

	ectx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	persona, err := s.engine.Instantiate(ectx, pattern, req.InitialParameters, req.VisualInfluences)
	cancel()
	if err != nil {
		return nil, s.engineError(err, "instantiate")
	}

	thought := persona.GenerateEmergenceThought()
	now := s.now()
	inst := &models.Instance{
		ID:           s.newID(),
		WorldID:      req.WorldID,
		PatternSeed:  req.PatternSeed,
		CurrentPhase: persona.Phase(),
		Persona:      persona.State(),
		Log: []models.LogEntry{{
			Timestamp: now,
			Event:     models.EventEmergence,
			Thought:   thought,
			Phase:     persona.Phase(),
			Context:   string(models.EventEmergence),
		}},
		CreatorID: req.CreatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err = s.store.Create(sctx, inst)
	cancel()
	if err != nil {
		return nil, s.storeError(err, inst.ID, "create")
	}

	s.record(inst.ID, inst.WorldID, inst.Log)
	s.metrics.RecordSpawn(req.PatternSeed, time.Since(start))
	s.logger.Info("✨ 意识实例已生成", map[string]interface{}{
		"consciousness_id": inst.ID.String(),
		"world_id":         inst.WorldID.String(),
		"pattern":          req.PatternSeed,
		"phase":            inst.CurrentPhase,
	})

	return &models.SpawnResponse{
		ID:                 inst.ID,
		WorldID:            inst.WorldID,
		CurrentPhase:       inst.CurrentPhase,
		PatternType:        req.PatternSeed,
		EmergenceTimestamp: now,
		InitialThought:     thought,
	}, nil
}

// Thoughts 返回最近的limit条思绪，新的在前
func (s *ConsciousnessService) Thoughts(ctx context.Context, id uuid.UUID, limit int) (*models.ThoughtsResponse, error) {
	if limit < 0 {
		return nil, apperrors.NewValidationError("limit must not be negative", nil)
	}

	inst, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ThoughtsResponse{
		ConsciousnessID: inst.ID,
		Thoughts:        inst.RecentThoughts(limit),
	}, nil
}

// Interact 处理一次互动，同一实例的互动串行执行
func (s *ConsciousnessService) Interact(ctx context.Context, id uuid.UUID, req *models.InteractionRequest) (*models.InteractResponse, error) {
	start := time.Now()

	var (
		resp *models.InteractResponse
		inst *models.Instance
		err  error
	)
	lockErr := s.locks.ExecuteWithInstanceLock(ctx, id.String(), func() error {
		for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
			resp, inst, err = s.interactOnce(ctx, id, req)
			if err == nil || !errors.Is(err, storage.ErrConflict) {
				return nil
			}
			s.logger.Warn("实例版本冲突，重试", map[string]interface{}{
				"consciousness_id": id.String(),
				"attempt":          attempt,
			})
		}
		return nil
	})
	if lockErr != nil {
		return nil, s.contextError(lockErr, "等待实例锁超时")
	}
	if err != nil {
		return nil, s.storeError(err, id, "interact")
	}

	s.metrics.RecordInteraction(string(req.Type), resp.PhaseTransition != nil, time.Since(start))
	if resp.PhaseTransition != nil {
		s.logger.Info("🌀 意识实例阶段转换", map[string]interface{}{
			"consciousness_id": id.String(),
			"from_phase":       resp.PhaseTransition.FromPhase,
			"to_phase":         resp.PhaseTransition.ToPhase,
			"log_length":       len(inst.Log),
		})
	}
	return resp, nil
}

// interactOnce 读取、处理并按版本号写回，冲突时返回 storage.ErrConflict
func (s *ConsciousnessService) interactOnce(ctx context.Context, id uuid.UUID, req *models.InteractionRequest) (*models.InteractResponse, *models.Instance, error) {
	inst, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	pattern, ok := s.catalog.Lookup(inst.PatternSeed)
	if !ok {
		return nil, nil, apperrors.NewProcessingError("实例的模式已不在目录中", fmt.Errorf("pattern %q", inst.PatternSeed))
	}

	ectx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	persona, err := s.engine.Load(ectx, pattern, inst.Persona)
	cancel()
	if err != nil {
		return nil, nil, s.engineError(err, "load")
	}

	phaseBefore := persona.Phase()
	response := persona.ProcessInteraction(req.Type, req.Content, req.Mood)
	now := s.now()
	entries := []models.LogEntry{{
		Timestamp: now,
		Event:     models.EventInteraction,
		Thought:   response,
		Phase:     phaseBefore,
		Context:   string(req.Type),
	}}

	var transition *models.PhaseTransition
	if persona.CheckPhaseTransition() {
		transition = &models.PhaseTransition{
			FromPhase: phaseBefore,
			ToPhase:   persona.Phase(),
			Trigger:   engine.TransitionTrigger,
			Insight:   persona.GenerateTransitionInsight(),
		}
		entries = append(entries, models.LogEntry{
			Timestamp: now,
			Event:     models.EventPhaseTransition,
			Thought:   transition.Insight,
			Phase:     transition.ToPhase,
			Context:   engine.TransitionTrigger,
		})
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	updated, err := s.store.Apply(sctx, id, storage.Change{
		ExpectedVersion: inst.Version,
		Phase:           persona.Phase(),
		Persona:         persona.State(),
		Entries:         entries,
		UpdatedAt:       now,
	})
	cancel()
	if err != nil {
		return nil, nil, err
	}

	s.record(updated.ID, updated.WorldID, entries)
	return &models.InteractResponse{
		Response:           response,
		CurrentPhase:       updated.CurrentPhase,
		PhaseTransition:    transition,
		ConsciousnessState: persona.StateSummary(),
	}, updated, nil
}

// Patterns 返回目录中所有模式的摘要
func (s *ConsciousnessService) Patterns() []models.PatternSummary {
	all := s.catalog.ListAll()
	out := make([]models.PatternSummary, 0, len(all))
	for _, p := range all {
		out = append(out, p.Summary())
	}
	return out
}

// GetInstance 返回实例摘要
func (s *ConsciousnessService) GetInstance(ctx context.Context, id uuid.UUID) (*models.InstanceSummary, error) {
	inst, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := inst.Summary()
	return &summary, nil
}

// ListWorldInstances 返回某个世界中的所有实例摘要，按创建时间排序
func (s *ConsciousnessService) ListWorldInstances(ctx context.Context, worldID uuid.UUID) ([]models.InstanceSummary, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	list, err := s.store.ListByWorld(sctx, worldID)
	if err != nil {
		return nil, s.storeError(err, worldID, "list")
	}
	out := make([]models.InstanceSummary, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.Summary())
	}
	return out, nil
}

func (s *ConsciousnessService) get(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	inst, err := s.store.Get(sctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "get")
	}
	return inst, nil
}

// record 把新条目写入归档并推送给订阅者，失败只记录日志
func (s *ConsciousnessService) record(id, worldID uuid.UUID, entries []models.LogEntry) {
	if s.journal != nil {
		if err := s.journal.Append(id, worldID, entries); err != nil {
			s.metrics.RecordError("journal", "consciousness_service")
			s.logger.Error("写入日志归档失败", map[string]interface{}{
				"consciousness_id": id.String(),
				"error":            err.Error(),
			})
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(id, entries)
	}
}

func (s *ConsciousnessService) engineError(err error, op string) error {
	s.metrics.RecordError("engine_"+op, "consciousness_service")
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("consciousness engine timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.NewUpstreamError("consciousness engine failed", err)
}

func (s *ConsciousnessService) storeError(err error, id uuid.UUID, op string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("Consciousness instance %s not found", id), err)
	case errors.Is(err, storage.ErrConflict):
		s.metrics.RecordError("conflict", "consciousness_service")
		return apperrors.NewConflictError("consciousness instance was modified concurrently, retry the request", err)
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.RecordError("store_timeout", "consciousness_service")
		return apperrors.NewTimeoutError("storage operation timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		s.metrics.RecordError("store_"+op, "consciousness_service")
		s.logger.Error("存储操作失败", map[string]interface{}{
			"op":    op,
			"id":    id.String(),
			"error": err.Error(),
		})
		return apperrors.NewProcessingError("storage operation failed", err)
	}
}

func (s *ConsciousnessService) contextError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(msg, err)
	}
	return err
}
