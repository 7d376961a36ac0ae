package models

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstance(n int) *Instance {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inst := &Instance{
		ID:           uuid.New(),
		WorldID:      uuid.New(),
		PatternSeed:  "crystallization",
		CurrentPhase: 1,
		CreatorID:    "creator-1",
		Version:      1,
		CreatedAt:    base,
		UpdatedAt:    base,
		Persona: PersonaState{
			Phase:            1,
			VisualInfluences: []string{"ice"},
		},
	}
	for i := 0; i < n; i++ {
		inst.Log = append(inst.Log, LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Event:     EventInteraction,
			Thought:   string(rune('a' + i)),
			Phase:     1,
		})
	}
	return inst
}

func TestRecentThoughts(t *testing.T) {
	inst := newInstance(4)

	got := inst.RecentThoughts(2)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Thought, "最新的条目应该排在最前")
	assert.Equal(t, "c", got[1].Thought)

	assert.Len(t, inst.RecentThoughts(10), 4, "limit超过日志长度时返回全部")

	empty := inst.RecentThoughts(0)
	assert.NotNil(t, empty, "limit为0时应返回空切片而不是nil")
	assert.Empty(t, empty)

	assert.Empty(t, newInstance(0).RecentThoughts(5))
}

func TestCloneIsolation(t *testing.T) {
	density := 0.4
	inst := newInstance(2)
	inst.Persona.Parameters.PatternDensity = &density

	c := inst.Clone()
	if diff := cmp.Diff(inst, c); diff != "" {
		t.Fatalf("拷贝与原实例不一致 (-want +got):\n%s", diff)
	}

	c.Log[0].Thought = "changed"
	c.Log = append(c.Log, LogEntry{Thought: "extra"})
	c.Persona.VisualInfluences[0] = "fog"
	*c.Persona.Parameters.PatternDensity = 0.9

	assert.Equal(t, "a", inst.Log[0].Thought)
	assert.Len(t, inst.Log, 2)
	assert.Equal(t, "ice", inst.Persona.VisualInfluences[0])
	assert.Equal(t, 0.4, *inst.Persona.Parameters.PatternDensity)

	var nilInst *Instance
	assert.Nil(t, nilInst.Clone())
}

func TestInstanceSummary(t *testing.T) {
	inst := newInstance(3)
	s := inst.Summary()

	assert.Equal(t, inst.ID, s.ID)
	assert.Equal(t, inst.WorldID, s.WorldID)
	assert.Equal(t, 3, s.LogLength)
	assert.Equal(t, inst.CreatedAt, s.CreatedAt)
}

func TestPatternValidateAndSummary(t *testing.T) {
	p := Pattern{
		ID:              "crystallization",
		Name:            "Crystallization",
		Kind:            KindCrystallizer,
		PhaseRange:      [2]int{1, 3},
		VisualTriggers:  []string{"ice", "prism"},
		ExampleThoughts: []string{"Structure appears."},
	}
	require.NoError(t, p.Validate())

	s := p.Summary()
	assert.Equal(t, []int{1, 2, 3}, s.TypicalPhases)
	assert.Equal(t, []string{"ice", "prism"}, s.VisualAffinities)

	assert.Equal(t, 1, p.ClampPhase(0))
	assert.Equal(t, 3, p.ClampPhase(4))
	assert.Equal(t, 2, p.ClampPhase(2))

	bad := p
	bad.Kind = "painter"
	assert.Error(t, bad.Validate())

	bad = p
	bad.PhaseRange = [2]int{3, 2}
	assert.Error(t, bad.Validate())

	bad = p
	bad.ExampleThoughts = nil
	assert.Error(t, bad.Validate())
}
