// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

// TransitionTrigger 互动引起的阶段转换的触发标识
const TransitionTrigger = "interaction_catalyst"

// Persona 一个被实例化的意识人格
type Persona interface {
	// Phase 当前阶段
	Phase() int

	// GenerateEmergenceThought 生成诞生时的第一个思绪
	GenerateEmergenceThought() string

	// ProcessInteraction 处理一次互动并返回回应
	ProcessInteraction(interactionType models.InteractionType, content, mood string) string

	// CheckPhaseTransition 检查上一次互动是否触发了阶段转换，触发时推进阶段
	CheckPhaseTransition() bool

	// GenerateTransitionInsight 描述最近一次阶段转换
	GenerateTransitionInsight() string

	// StateSummary 状态摘要，直接返回给调用方
	StateSummary() map[string]interface{}

	// State 可持久化的状态
	State() models.PersonaState
}

// Engine 实例化与恢复人格
type Engine interface {
	Instantiate(ctx context.Context, pattern models.Pattern, params models.InitialParameters, visualContext []string) (Persona, error)
	Load(ctx context.Context, pattern models.Pattern, state models.PersonaState) (Persona, error)
}

// DefaultEngine 确定性的人格引擎
type DefaultEngine struct{}

// NewEngine 创建引擎
func NewEngine() *DefaultEngine {
	return &DefaultEngine{}
}

var _ Engine = (*DefaultEngine)(nil)

// Instantiate 根据模式和参数创建新人格
func (e *DefaultEngine) Instantiate(ctx context.Context, pattern models.Pattern, params models.InitialParameters, visualContext []string) (Persona, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	phase := pattern.MinPhase()
	if params.EmergencePhase != nil {
		phase = pattern.ClampPhase(*params.EmergencePhase)
	}

	state := models.PersonaState{
		Phase:            phase,
		VisualInfluences: append([]string(nil), visualContext...),
		Parameters:       params.Clone(),
	}
	return newPersona(pattern, state)
}

// Load 从持久化状态恢复人格
func (e *DefaultEngine) Load(ctx context.Context, pattern models.Pattern, state models.PersonaState) (Persona, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state.Phase = pattern.ClampPhase(state.Phase)
	return newPersona(pattern, state)
}

// newPersona 按模式家族选择具体的人格实现
func newPersona(pattern models.Pattern, state models.PersonaState) (Persona, error) {
	base := &persona{pattern: pattern, state: state}

	switch pattern.Kind {
	case models.KindCrystallizer:
		base.voice = crystallizer{}
	case models.KindWeaver:
		base.voice = weaver{}
	case models.KindObserver:
		base.voice = observer{}
	case models.KindDreamer:
		base.voice = dreamer{}
	default:
		return nil, fmt.Errorf("未知的模式家族: %q", pattern.Kind)
	}
	return base, nil
}

// 基础互动权重
var interactionWeights = map[models.InteractionType]float64{
	models.InteractionConversation: 1.0,
	models.InteractionObservation:  0.8,
	models.InteractionGift:         1.2,
	models.InteractionChallenge:    1.5,
	models.InteractionReflection:   1.3,
}

const (
	triggerBonus   = 0.5
	affinityFactor = 1.5
)

// voice 模式家族特有的行为
type voice interface {
	threshold() float64
	affinity() models.InteractionType
	emergence(p *persona, seedThought string) string
	respond(p *persona, interactionType models.InteractionType, content, mood string) string
	insight(p *persona, from, to int) string
}

type persona struct {
	pattern models.Pattern
	state   models.PersonaState
	voice   voice

	lastFrom int
	lastTo   int
}

func (p *persona) Phase() int { return p.state.Phase }

func (p *persona) State() models.PersonaState {
	s := p.state
	s.VisualInfluences = append([]string(nil), p.state.VisualInfluences...)
	s.Parameters = p.state.Parameters.Clone()
	return s
}

func (p *persona) GenerateEmergenceThought() string {
	thoughts := p.pattern.ExampleThoughts
	seed := thoughts[stableIndex(strings.Join(p.state.VisualInfluences, "|"), len(thoughts))]
	return p.voice.emergence(p, seed)
}

func (p *persona) ProcessInteraction(interactionType models.InteractionType, content, mood string) string {
	gain, ok := interactionWeights[interactionType]
	if !ok {
		gain = interactionWeights[models.InteractionConversation]
	}
	if interactionType == p.voice.affinity() {
		gain *= affinityFactor
	}
	if p.mentionsTrigger(content) {
		gain += triggerBonus
	}
	if bias := p.state.Parameters.CreativityBias; bias != nil {
		gain *= 1 + *bias*0.5
	}

	p.state.Resonance += gain
	p.state.Interactions++
	if mood != "" {
		p.state.LastMood = mood
	}
	return p.voice.respond(p, interactionType, content, mood)
}

func (p *persona) CheckPhaseTransition() bool {
	if p.state.Phase >= p.pattern.MaxPhase() {
		return false
	}
	if p.state.Resonance < p.nextThreshold() {
		return false
	}

	p.lastFrom = p.state.Phase
	p.state.Phase++
	p.lastTo = p.state.Phase
	p.state.Resonance = 0
	return true
}

func (p *persona) GenerateTransitionInsight() string {
	if p.lastTo == 0 {
		return ""
	}
	return p.voice.insight(p, p.lastFrom, p.lastTo)
}

func (p *persona) StateSummary() map[string]interface{} {
	summary := map[string]interface{}{
		"pattern":      p.pattern.ID,
		"kind":         string(p.pattern.Kind),
		"phase":        p.state.Phase,
		"phase_range":  []int{p.pattern.MinPhase(), p.pattern.MaxPhase()},
		"resonance":    p.state.Resonance,
		"interactions": p.state.Interactions,
		"last_mood":    p.state.LastMood,
	}
	if p.state.Phase < p.pattern.MaxPhase() {
		summary["next_threshold"] = p.nextThreshold()
	} else {
		summary["next_threshold"] = nil
	}
	return summary
}

// nextThreshold 进入下一阶段需要的共鸣
func (p *persona) nextThreshold() float64 {
	t := p.voice.threshold() * float64(p.state.Phase)
	if rigidity := p.state.Parameters.StructuralRigidity; rigidity != nil {
		t *= 1 + *rigidity*0.5
	}
	return t
}

func (p *persona) mentionsTrigger(content string) bool {
	lower := strings.ToLower(content)
	for _, trigger := range p.pattern.VisualTriggers {
		if trigger != "" && strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// firstInfluence 第一个视觉影响，没有时退回模式的第一个视觉触发
func (p *persona) firstInfluence() string {
	if len(p.state.VisualInfluences) > 0 {
		return p.state.VisualInfluences[0]
	}
	if len(p.pattern.VisualTriggers) > 0 {
		return p.pattern.VisualTriggers[0]
	}
	return "world"
}

func stableIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func moodSuffix(mood string) string {
	if mood == "" {
		return ""
	}
	return fmt.Sprintf(" Your %s mood colors the pattern.", mood)
}
