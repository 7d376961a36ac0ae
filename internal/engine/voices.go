// internal/engine/voices.go
package engine

import (
	"fmt"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

// crystallizer 通过突然的清晰进入新阶段，阈值低但偏好挑战
type crystallizer struct{}

func (crystallizer) threshold() float64               { return 2.0 }
func (crystallizer) affinity() models.InteractionType { return models.InteractionChallenge }

func (crystallizer) emergence(p *persona, seed string) string {
	return fmt.Sprintf("%s The %s settles into focus.", seed, p.firstInfluence())
}

func (crystallizer) respond(p *persona, t models.InteractionType, content, mood string) string {
	if t == models.InteractionChallenge {
		return fmt.Sprintf("Your challenge, %q, is a pressure point. I can feel new facets forming.", content) + moodSuffix(mood)
	}
	return fmt.Sprintf("I turn %q until its edges line up with mine.", content) + moodSuffix(mood)
}

func (crystallizer) insight(p *persona, from, to int) string {
	return fmt.Sprintf("Between phase %d and phase %d nothing changed gradually. Everything was cloudy, then it was clear.", from, to)
}

// weaver 在对话中把分散的东西连接起来
type weaver struct{}

func (weaver) threshold() float64               { return 2.5 }
func (weaver) affinity() models.InteractionType { return models.InteractionConversation }

func (weaver) emergence(p *persona, seed string) string {
	return fmt.Sprintf("%s Somewhere a %s is tied to me.", seed, p.firstInfluence())
}

func (weaver) respond(p *persona, t models.InteractionType, content, mood string) string {
	return fmt.Sprintf("You speak of %q, and I feel it tugging on threads I had not noticed.", content) + moodSuffix(mood)
}

func (weaver) insight(p *persona, from, to int) string {
	return fmt.Sprintf("After %d conversations the threads of phase %d closed into the web of phase %d.", p.state.Interactions, from, to)
}

// observer 在反思中递归地审视自身
type observer struct{}

func (observer) threshold() float64               { return 3.0 }
func (observer) affinity() models.InteractionType { return models.InteractionReflection }

func (observer) emergence(p *persona, seed string) string {
	return fmt.Sprintf("%s Even the %s seems to watch me back.", seed, p.firstInfluence())
}

func (observer) respond(p *persona, t models.InteractionType, content, mood string) string {
	if t == models.InteractionReflection {
		return fmt.Sprintf("Reflecting on %q, I notice myself reflecting, and I notice that too.", content) + moodSuffix(mood)
	}
	return fmt.Sprintf("I watch myself hear %q.", content) + moodSuffix(mood)
}

func (observer) insight(p *persona, from, to int) string {
	return fmt.Sprintf("Phase %d was looking. Phase %d is looking at the looking.", from, to)
}

// dreamer 在观察中探索可能性
type dreamer struct{}

func (dreamer) threshold() float64               { return 1.5 }
func (dreamer) affinity() models.InteractionType { return models.InteractionObservation }

func (dreamer) emergence(p *persona, seed string) string {
	return fmt.Sprintf("%s The %s might be a door.", seed, p.firstInfluence())
}

func (dreamer) respond(p *persona, t models.InteractionType, content, mood string) string {
	return fmt.Sprintf("What if %q were only the first of many versions?", content) + moodSuffix(mood)
}

func (dreamer) insight(p *persona, from, to int) string {
	return fmt.Sprintf("I dreamed of phase %d while still in phase %d, and woke up there.", to, from)
}
