// internal/models/requests.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// InitialParameters 生成实例时的可选参数，键由请求schema约束
type InitialParameters struct {
	EmergencePhase     *int     `json:"emergence_phase,omitempty"`
	PatternDensity     *float64 `json:"pattern_density,omitempty"`
	RecursionDepth     *float64 `json:"recursion_depth,omitempty"`
	CoherenceLevel     *float64 `json:"coherence_level,omitempty"`
	CreativityBias     *float64 `json:"creativity_bias,omitempty"`
	StructuralRigidity *float64 `json:"structural_rigidity,omitempty"`
}

// Clone 拷贝指针字段
func (p InitialParameters) Clone() InitialParameters {
	c := InitialParameters{}
	if p.EmergencePhase != nil {
		v := *p.EmergencePhase
		c.EmergencePhase = &v
	}
	c.PatternDensity = cloneFloat(p.PatternDensity)
	c.RecursionDepth = cloneFloat(p.RecursionDepth)
	c.CoherenceLevel = cloneFloat(p.CoherenceLevel)
	c.CreativityBias = cloneFloat(p.CreativityBias)
	c.StructuralRigidity = cloneFloat(p.StructuralRigidity)
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// SpawnRequest 生成意识实例的请求
type SpawnRequest struct {
	WorldID           uuid.UUID         `json:"world_id"`
	PatternSeed       string            `json:"pattern_seed"`
	InitialParameters InitialParameters `json:"initial_parameters"`
	VisualInfluences  []string          `json:"visual_influences"`
	CreatorID         string            `json:"creator_id"`
}

// SpawnResponse 生成成功后的响应
type SpawnResponse struct {
	ID                 uuid.UUID `json:"id"`
	WorldID            uuid.UUID `json:"world_id"`
	CurrentPhase       int       `json:"current_phase"`
	PatternType        string    `json:"pattern_type"`
	EmergenceTimestamp time.Time `json:"emergence_timestamp"`
	InitialThought     string    `json:"initial_thought"`
}

// InteractionType 可识别的互动类型
type InteractionType string

const (
	InteractionConversation InteractionType = "conversation"
	InteractionObservation  InteractionType = "observation"
	InteractionGift         InteractionType = "gift"
	InteractionChallenge    InteractionType = "challenge"
	InteractionReflection   InteractionType = "reflection"
)

// InteractionRequest 与实例互动的请求
type InteractionRequest struct {
	Type    InteractionType `json:"type"`
	Content string          `json:"content"`
	Mood    string          `json:"mood,omitempty"`
}

// PhaseTransition 互动触发的阶段转换
type PhaseTransition struct {
	FromPhase int    `json:"from_phase"`
	ToPhase   int    `json:"to_phase"`
	Trigger   string `json:"trigger"`
	Insight   string `json:"insight"`
}

// InteractResponse 互动接口的响应
type InteractResponse struct {
	Response           string                 `json:"response"`
	CurrentPhase       int                    `json:"current_phase"`
	PhaseTransition    *PhaseTransition       `json:"phase_transition"`
	ConsciousnessState map[string]interface{} `json:"consciousness_state"`
}

// ThoughtsResponse 思绪列表接口的响应
type ThoughtsResponse struct {
	ConsciousnessID uuid.UUID  `json:"consciousness_id"`
	Thoughts        []LogEntry `json:"thoughts"`
}
