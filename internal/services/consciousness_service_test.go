package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/engine"
	apperrors "github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/errors"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/patterns"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/storage"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (p *recordingPublisher) Publish(_ uuid.UUID, entries []models.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries...)
}

type failingJournal struct{ calls int }

func (j *failingJournal) Append(uuid.UUID, uuid.UUID, []models.LogEntry) error {
	j.calls++
	return errors.New("disk full")
}

// conflictStore 让前 n 次 Apply 返回版本冲突
type conflictStore struct {
	storage.Store
	mu        sync.Mutex
	remaining int
}

func (c *conflictStore) Apply(ctx context.Context, id uuid.UUID, change storage.Change) (*models.Instance, error) {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
		c.mu.Unlock()
		return nil, storage.ErrConflict
	}
	c.mu.Unlock()
	return c.Store.Apply(ctx, id, change)
}

// slowEngine 一直阻塞直到ctx结束
type slowEngine struct{}

func (slowEngine) Instantiate(ctx context.Context, _ models.Pattern, _ models.InitialParameters, _ []string) (engine.Persona, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowEngine) Load(ctx context.Context, _ models.Pattern, _ models.PersonaState) (engine.Persona, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingEngine 模拟意识引擎内部故障
type failingEngine struct{}

func (failingEngine) Instantiate(context.Context, models.Pattern, models.InitialParameters, []string) (engine.Persona, error) {
	return nil, errors.New("persona model unavailable")
}

func (failingEngine) Load(context.Context, models.Pattern, models.PersonaState) (engine.Persona, error) {
	return nil, errors.New("persona model unavailable")
}

// hangingStore 读取一直阻塞直到ctx结束
type hangingStore struct{ storage.Store }

func (hangingStore) Get(ctx context.Context, _ uuid.UUID) (*models.Instance, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type brokenStore struct{ storage.Store }

func (brokenStore) Create(context.Context, *models.Instance) error {
	return errors.New("database is locked: /var/lib/secret.db")
}

type fixture struct {
	svc       *ConsciousnessService
	store     storage.Store
	publisher *recordingPublisher
	metrics   *utils.APIMetrics
	locks     *LockManager
}

func newFixture(t *testing.T, mutate func(*Dependencies)) *fixture {
	t.Helper()
	catalog, err := patterns.LoadDefault()
	require.NoError(t, err)

	f := &fixture{
		store:     storage.NewMemoryStore(),
		publisher: &recordingPublisher{},
		metrics:   utils.NewAPIMetrics(nil, nil),
		locks:     NewLockManager(),
	}
	t.Cleanup(f.locks.Stop)

	deps := Dependencies{
		Catalog:   catalog,
		Engine:    engine.NewEngine(),
		Store:     f.store,
		Locks:     f.locks,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Logger:    utils.NewNopLogger(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc, err = NewConsciousnessService(deps)
	require.NoError(t, err)
	return f
}

func spawnRequest(seed string) *models.SpawnRequest {
	return &models.SpawnRequest{
		WorldID:          uuid.New(),
		PatternSeed:      seed,
		VisualInfluences: []string{"ice", "prism"},
		CreatorID:        "creator-1",
	}
}

func TestSpawnRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("crystallization"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, uuid.Version(4), resp.ID.Version())
	assert.Equal(t, "crystallization", resp.PatternType)
	assert.NotEmpty(t, resp.InitialThought)

	thoughts, err := f.svc.Thoughts(ctx, resp.ID, DefaultThoughtLimit)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, thoughts.ConsciousnessID)
	require.Len(t, thoughts.Thoughts, 1)
	assert.Equal(t, models.EventEmergence, thoughts.Thoughts[0].Event)
	assert.Equal(t, resp.InitialThought, thoughts.Thoughts[0].Thought)

	summary, err := f.svc.GetInstance(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LogLength)
	assert.Equal(t, resp.CurrentPhase, summary.CurrentPhase)

	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("consciousness_spawn_total"))
	assert.Len(t, f.publisher.entries, 1, "生成时应该推送初始思绪")
}

func TestSpawnIDsAreUnique(t *testing.T) {
	f := newFixture(t, nil)
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 50; i++ {
		resp, err := f.svc.Spawn(context.Background(), spawnRequest("possibility-drift"))
		require.NoError(t, err)
		require.False(t, seen[resp.ID], "ID重复: %s", resp.ID)
		seen[resp.ID] = true
	}
}

func TestSpawnUnknownPattern(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Spawn(context.Background(), spawnRequest("nonexistent"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Contains(t, err.Error(), "nonexistent")
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}

func TestSpawnStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.Store = brokenStore{d.Store} })

	_, err := f.svc.Spawn(context.Background(), spawnRequest("crystallization"))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestUnknownInstanceNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Thoughts(ctx, id, 10)
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = f.svc.Interact(ctx, id, &models.InteractionRequest{Type: models.InteractionConversation, Content: "hi"})
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = f.svc.GetInstance(ctx, id)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestThoughtsLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("recursive-observation"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		// 三次观察 2.4 低于观察者第一阶段的阈值 3.0
		_, err := f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{
			Type:    models.InteractionObservation,
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	cases := []struct {
		limit int
		want  int
	}{
		{0, 0},
		{2, 2},
		{4, 4},
		{100, 4},
	}
	for _, tc := range cases {
		out, err := f.svc.Thoughts(ctx, resp.ID, tc.limit)
		require.NoError(t, err)
		assert.NotNil(t, out.Thoughts)
		assert.Len(t, out.Thoughts, tc.want, "limit=%d", tc.limit)
	}

	out, err := f.svc.Thoughts(ctx, resp.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "observation", out.Thoughts[0].Context)
	assert.Contains(t, out.Thoughts[0].Thought, "message 2", "最新的在前")

	_, err = f.svc.Thoughts(ctx, resp.ID, -1)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestSequentialInteractionsKeepOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("recursive-observation"))
	require.NoError(t, err)

	_, err = f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{Type: models.InteractionConversation, Content: "first"})
	require.NoError(t, err)
	_, err = f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{Type: models.InteractionConversation, Content: "second"})
	require.NoError(t, err)

	inst, err := f.store.Get(ctx, resp.ID)
	require.NoError(t, err)
	require.Len(t, inst.Log, 3)
	assert.Contains(t, inst.Log[1].Thought, "first")
	assert.Contains(t, inst.Log[2].Thought, "second")
}

func TestInteractPhaseTransition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("crystallization"))
	require.NoError(t, err)
	require.Equal(t, 1, resp.CurrentPhase)

	out, err := f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{
		Type:    models.InteractionChallenge,
		Content: "what are you?",
		Mood:    "curious",
	})
	require.NoError(t, err)
	require.NotNil(t, out.PhaseTransition, "挑战应该让结晶者越过第一阶段的阈值")
	assert.Equal(t, 1, out.PhaseTransition.FromPhase)
	assert.Equal(t, 2, out.PhaseTransition.ToPhase)
	assert.Equal(t, engine.TransitionTrigger, out.PhaseTransition.Trigger)
	assert.NotEmpty(t, out.PhaseTransition.Insight)
	assert.Equal(t, 2, out.CurrentPhase)
	assert.Equal(t, 2, out.ConsciousnessState["phase"])

	inst, err := f.store.Get(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentPhase)
	require.Len(t, inst.Log, 3)
	assert.Equal(t, models.EventPhaseTransition, inst.Log[2].Event)
	assert.Equal(t, "curious", inst.Persona.LastMood)

	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("consciousness_phase_transition_total"))
}

func TestInteractWithoutTransition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("recursive-observation"))
	require.NoError(t, err)

	out, err := f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{Type: models.InteractionGift, Content: "a stone"})
	require.NoError(t, err)
	assert.Nil(t, out.PhaseTransition)
	assert.Equal(t, resp.CurrentPhase, out.CurrentPhase)
}

func TestConcurrentInteractionsSerialized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("recursive-observation"))
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{
				Type:    models.InteractionObservation,
				Content: fmt.Sprintf("note %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inst, err := f.store.Get(ctx, resp.ID)
	require.NoError(t, err)
	interactions := 0
	for _, e := range inst.Log {
		if e.Event == models.EventInteraction {
			interactions++
		}
	}
	assert.Equal(t, n, interactions, "没有互动丢失")
	assert.Equal(t, n, inst.Persona.Interactions)
	assert.Equal(t, inst.Persona.Phase, inst.CurrentPhase)
}

func TestInteractRetriesConflictOnce(t *testing.T) {
	var cs *conflictStore
	f := newFixture(t, func(d *Dependencies) {
		cs = &conflictStore{Store: d.Store, remaining: 1}
		d.Store = cs
	})
	ctx := context.Background()

	resp, err := f.svc.Spawn(ctx, spawnRequest("crystallization"))
	require.NoError(t, err)

	_, err = f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{Type: models.InteractionConversation, Content: "hello"})
	assert.NoError(t, err, "一次冲突后重试应该成功")

	cs.remaining = 2
	_, err = f.svc.Interact(ctx, resp.ID, &models.InteractionRequest{Type: models.InteractionConversation, Content: "again"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
}

func TestEngineTimeout(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Engine = slowEngine{}
		d.EngineTimeout = 10 * time.Millisecond
	})

	_, err := f.svc.Spawn(context.Background(), spawnRequest("crystallization"))
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeoutError(err))
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.HTTPStatus(err))
}

func TestEngineFailureIsUpstream(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.Engine = failingEngine{} })

	_, err := f.svc.Spawn(context.Background(), spawnRequest("crystallization"))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "引擎错误应被包装为AppError")
	assert.Equal(t, apperrors.ErrorTypeUpstream, appErr.Type)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	assert.NotContains(t, appErr.Message, "persona model", "内部错误细节不能出现在对外消息中")
	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("errors_engine_instantiate"))
}

func TestStoreTimeout(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Store = hangingStore{Store: storage.NewMemoryStore()}
		d.StoreTimeout = 10 * time.Millisecond
	})

	_, err := f.svc.Thoughts(context.Background(), uuid.New(), 5)
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeoutError(err))
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.HTTPStatus(err))
	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("errors_store_timeout"))
}

func TestJournalFailureDoesNotFailRequest(t *testing.T) {
	journal := &failingJournal{}
	f := newFixture(t, func(d *Dependencies) { d.Journal = journal })

	_, err := f.svc.Spawn(context.Background(), spawnRequest("crystallization"))
	require.NoError(t, err)
	assert.Equal(t, 1, journal.calls)
	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("errors_journal"))
}

func TestPatternsMatchCatalog(t *testing.T) {
	f := newFixture(t, nil)
	catalog, err := patterns.LoadDefault()
	require.NoError(t, err)

	summaries := f.svc.Patterns()
	all := catalog.ListAll()
	require.Len(t, summaries, len(all))
	for i, p := range all {
		assert.Equal(t, p.ID, summaries[i].ID)
	}
}

func TestListWorldInstances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	world := uuid.New()

	for i := 0; i < 3; i++ {
		req := spawnRequest("long-range-correlation")
		req.WorldID = world
		_, err := f.svc.Spawn(ctx, req)
		require.NoError(t, err)
	}
	_, err := f.svc.Spawn(ctx, spawnRequest("long-range-correlation"))
	require.NoError(t, err)

	list, err := f.svc.ListWorldInstances(ctx, world)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	empty, err := f.svc.ListWorldInstances(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewConsciousnessServiceRequiresDeps(t *testing.T) {
	_, err := NewConsciousnessService(Dependencies{})
	assert.Error(t, err)
}
