package orchestrator

import (
	agentctx "github.com/forgekit/agentcore/internal/context"
	"github.com/forgekit/agentcore/pkg/models"
)

const (
	// compressionBudgetFraction is the share of the model's context window
	// the transcript is allowed to consume before compress starts dropping
	// messages; the remainder is headroom for the system prompt, tool
	// schemas, and the model's own response.
	compressionBudgetFraction = 0.5
	compressionKeepFirst      = 1
	compressionKeepLast       = 20

	// compressionMessageThreshold is the transcript length above which the
	// middle is dropped outright, regardless of token estimates.
	compressionMessageThreshold = 30
)

// compress bounds the transcript two ways. Past
// compressionMessageThreshold messages, everything between the first
// message (the original request, for grounding) and the most recent
// compressionKeepLast is dropped. Below that threshold, an estimated token
// total exceeding compressionBudgetFraction of o.model's context window
// still drops oldest non-pinned messages first, with the same keep rules.
//
// Truncator operates on its own lightweight Message type, so compress maps
// history into that shape only to learn how many oldest messages to drop,
// then applies that count to the real []*models.Message slice directly —
// the *models.Message pointers themselves are never reconstructed, so
// ToolCalls/ToolResults/Metadata survive untouched.
func (o *Orchestrator) compress(history []*models.Message) []*models.Message {
	if len(history) > compressionMessageThreshold {
		kept := make([]*models.Message, 0, compressionKeepFirst+compressionKeepLast)
		kept = append(kept, history[:compressionKeepFirst]...)
		for _, m := range history[compressionKeepFirst : len(history)-compressionKeepLast] {
			if m.Role == models.RoleSystem {
				kept = append(kept, m)
			}
		}
		kept = append(kept, history[len(history)-compressionKeepLast:]...)
		history = kept
	}

	window := agentctx.NewWindowForModel(o.model)
	budget := int(float64(window.Info().TotalTokens) * compressionBudgetFraction)

	lite := make([]agentctx.Message, len(history))
	for i, m := range history {
		lite[i] = agentctx.Message{
			Role:     string(m.Role),
			Content:  m.Content,
			Pinned:   i == 0,
			IsSystem: m.Role == models.RoleSystem,
		}
	}

	trunc := agentctx.NewTruncator(agentctx.TruncateOldest, budget)
	trunc.SetKeepFirst(compressionKeepFirst)
	trunc.SetKeepLast(compressionKeepLast)

	_, result := trunc.Truncate(lite)
	if result.RemovedCount == 0 {
		return history
	}

	// truncateOldest drops the oldest eligible (non-kept, non-pinned,
	// non-system) messages first; replicate that same eligibility test
	// against the real slice and drop its first RemovedCount matches,
	// preserving every other message and pointer untouched.
	toDrop := result.RemovedCount
	kept := make([]*models.Message, 0, len(history)-result.RemovedCount)
	for i, m := range history {
		eligible := i >= compressionKeepFirst &&
			i < len(history)-compressionKeepLast &&
			m.Role != models.RoleSystem
		if eligible && toDrop > 0 {
			toDrop--
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
