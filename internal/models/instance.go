// internal/models/instance.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 日志事件类型
type EventKind string

const (
	EventEmergence       EventKind = "emergence"
	EventInteraction     EventKind = "interaction"
	EventPhaseTransition EventKind = "phase_transition"
)

// LogEntry 意识实例日志中的一条记录
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     EventKind `json:"event"`
	Thought   string    `json:"thought"`
	Phase     int       `json:"phase"`
	Context   string    `json:"context,omitempty"`
}

// PersonaState 人格的可持久化状态
type PersonaState struct {
	Phase            int               `json:"phase"`
	Resonance        float64           `json:"resonance"`
	Interactions     int               `json:"interactions"`
	LastMood         string            `json:"last_mood,omitempty"`
	VisualInfluences []string          `json:"visual_influences,omitempty"`
	Parameters       InitialParameters `json:"parameters"`
}

// Instance 一个已生成的意识实例
type Instance struct {
	ID           uuid.UUID    `json:"id"`
	WorldID      uuid.UUID    `json:"world_id"`
	PatternSeed  string       `json:"pattern_seed"`
	CurrentPhase int          `json:"current_phase"`
	Persona      PersonaState `json:"persona"`
	Log          []LogEntry   `json:"emergence_log"`
	CreatorID    string       `json:"creator_id"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// InstanceSummary 实例详情/列表接口返回的摘要
type InstanceSummary struct {
	ID           uuid.UUID `json:"id"`
	WorldID      uuid.UUID `json:"world_id"`
	PatternSeed  string    `json:"pattern_seed"`
	CurrentPhase int       `json:"current_phase"`
	CreatorID    string    `json:"creator_id"`
	LogLength    int       `json:"log_length"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecentThoughts 按时间倒序返回最多limit条日志
func (i *Instance) RecentThoughts(limit int) []LogEntry {
	if limit <= 0 || len(i.Log) == 0 {
		return []LogEntry{}
	}
	if limit > len(i.Log) {
		limit = len(i.Log)
	}

	thoughts := make([]LogEntry, 0, limit)
	for idx := len(i.Log) - 1; idx >= len(i.Log)-limit; idx-- {
		thoughts = append(thoughts, i.Log[idx])
	}
	return thoughts
}

// Summary 转换为摘要
func (i *Instance) Summary() InstanceSummary {
	return InstanceSummary{
		ID:           i.ID,
		WorldID:      i.WorldID,
		PatternSeed:  i.PatternSeed,
		CurrentPhase: i.CurrentPhase,
		CreatorID:    i.CreatorID,
		LogLength:    len(i.Log),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// Clone 深拷贝实例，存储层用它隔离调用方的修改
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Log = append([]LogEntry(nil), i.Log...)
	c.Persona.VisualInfluences = append([]string(nil), i.Persona.VisualInfluences...)
	c.Persona.Parameters = i.Persona.Parameters.Clone()
	return &c
}
