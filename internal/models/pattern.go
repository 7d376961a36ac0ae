// internal/models/pattern.go
package models

import "fmt"

// PatternKind 模式家族，决定人格的具体实现
type PatternKind string

const (
	KindCrystallizer PatternKind = "crystallizer" // 通过突然的清晰获得结构
	KindWeaver       PatternKind = "weaver"       // 连接分散的概念
	KindObserver     PatternKind = "observer"     // 递归地审视自身
	KindDreamer      PatternKind = "dreamer"      // 探索可能性空间
)

// 阶段边界
const (
	MinPhase = 1
	MaxPhase = 4
)

// Valid 检查模式家族是否已知
func (k PatternKind) Valid() bool {
	switch k {
	case KindCrystallizer, KindWeaver, KindObserver, KindDreamer:
		return true
	}
	return false
}

// Pattern 模式库中的一个意识模板
type Pattern struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Kind            PatternKind `json:"kind" yaml:"kind"`
	Description     string      `json:"description" yaml:"description"`
	PhaseRange      [2]int      `json:"phase_range" yaml:"phase_range"`
	VisualTriggers  []string    `json:"visual_triggers" yaml:"visual_triggers"`
	ExampleThoughts []string    `json:"example_thoughts" yaml:"example_thoughts"`
}

// PatternSummary 模式列表接口返回的摘要
type PatternSummary struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	TypicalPhases    []int    `json:"typical_phases"`
	VisualAffinities []string `json:"visual_affinities"`
	ExampleThoughts  []string `json:"example_thoughts"`
}

// MinPhase 模式允许的最低阶段
func (p Pattern) MinPhase() int { return p.PhaseRange[0] }

// MaxPhase 模式允许的最高阶段
func (p Pattern) MaxPhase() int { return p.PhaseRange[1] }

// ClampPhase 把阶段限制在模式的阶段范围内
func (p Pattern) ClampPhase(phase int) int {
	if phase < p.MinPhase() {
		return p.MinPhase()
	}
	if phase > p.MaxPhase() {
		return p.MaxPhase()
	}
	return phase
}

// Validate 检查模式定义是否完整
func (p Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("模式缺少id")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("模式 %s 的类型无效: %q", p.ID, p.Kind)
	}
	lo, hi := p.PhaseRange[0], p.PhaseRange[1]
	if lo < MinPhase || hi > MaxPhase || lo > hi {
		return fmt.Errorf("模式 %s 的阶段范围无效: [%d, %d]", p.ID, lo, hi)
	}
	if len(p.ExampleThoughts) == 0 {
		return fmt.Errorf("模式 %s 缺少示例思绪", p.ID)
	}
	return nil
}

// Summary 转换为接口摘要
func (p Pattern) Summary() PatternSummary {
	phases := make([]int, 0, p.MaxPhase()-p.MinPhase()+1)
	for i := p.MinPhase(); i <= p.MaxPhase(); i++ {
		phases = append(phases, i)
	}

	return PatternSummary{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		TypicalPhases:    phases,
		VisualAffinities: append([]string{}, p.VisualTriggers...),
		ExampleThoughts:  append([]string{}, p.ExampleThoughts...),
	}
}
