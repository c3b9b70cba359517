// Package context provides context management for agent conversations.
//
// This package handles:
//   - Context packing: selecting which messages to include in LLM requests
//   - Rolling summaries: compressing old history into summaries
//   - Budget management: staying within token/char limits
package context

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/forgekit/agentcore/pkg/models"
)

// PackOptions configures how messages are packed into context.
type PackOptions struct {
	// MaxMessages is the hard cap on number of messages to include (e.g. 60).
	MaxMessages int

	// MaxChars is the approximate character budget (cheap proxy for tokens).
	// Default: 30000 (~7500 tokens at 4 chars/token).
	MaxChars int

	// MaxToolResultChars is the max chars per tool result content.
	// Longer results are truncated. Default: 6000.
	MaxToolResultChars int

	// IncludeSummary controls whether to include the rolling summary.
	IncludeSummary bool

	// SummaryMetadataKey is the metadata key marking summary messages.
	// Default: "forgekit_summary".
	SummaryMetadataKey string
}

// DefaultPackOptions returns sensible defaults for context packing.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		MaxMessages:        60,
		MaxChars:           30000,
		MaxToolResultChars: 6000,
		IncludeSummary:     true,
		SummaryMetadataKey: SummaryMetadataKey,
	}
}

// Packer selects and prepares messages for LLM context.
type Packer struct {
	opts PackOptions
}

// NewPacker creates a new context packer with the given options.
func NewPacker(opts PackOptions) *Packer {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 60
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 30000
	}
	if opts.MaxToolResultChars <= 0 {
		opts.MaxToolResultChars = 6000
	}
	if opts.SummaryMetadataKey == "" {
		opts.SummaryMetadataKey = SummaryMetadataKey
	}
	return &Packer{opts: opts}
}

// Pack selects messages from history to fit within budget.
//
// The packed result includes (in order):
//  1. Summary message (if IncludeSummary and summary exists)
//  2. Recent messages from history (newest first, up to budget)
//  3. The incoming user message
//
// Tool result content is truncated to MaxToolResultChars.
// Messages are selected from the end (most recent) backwards until
// either MaxMessages or MaxChars is reached.
func (p *Packer) Pack(history []*models.Message, incoming *models.Message, summary *models.Message) ([]*models.Message, error) {
	return p.packInternal(history, incoming, summary, false).Messages, nil
}

// PackResult is the outcome of a packing pass, optionally including
// diagnostics describing which messages were included or dropped and why.
type PackResult struct {
	Messages    []*models.Message
	Diagnostics *models.ContextEventPayload
}

// PackWithDiagnostics behaves like Pack but also returns diagnostics
// describing the packing decision for observability/debugging purposes.
func (p *Packer) PackWithDiagnostics(history []*models.Message, incoming *models.Message, summary *models.Message) PackResult {
	return p.packInternal(history, incoming, summary, true)
}

func (p *Packer) packInternal(history []*models.Message, incoming *models.Message, summary *models.Message, withDiagnostics bool) PackResult {
	var result []*models.Message
	var items []models.ContextPackItem

	// Track budget
	totalChars := 0
	totalMsgs := 0

	summaryUsed := p.opts.IncludeSummary && summary != nil
	summaryChars := 0

	// Reserve space for incoming message (only if present)
	if incoming != nil {
		incomingChars := p.messageChars(incoming)
		totalChars += incomingChars
		totalMsgs++
	}

	// Reserve space for summary if present and enabled
	if summaryUsed {
		summaryChars = p.messageChars(summary)
		totalChars += summaryChars
		totalMsgs++
	}

	// Filter out summary messages from history (they're handled separately)
	filtered := make([]*models.Message, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		if p.isSummaryMessage(m) {
			continue
		}
		filtered = append(filtered, m)
	}

	// Select messages from the end (most recent) backwards
	// Build in reverse order, then reverse once (O(n) instead of O(n²))
	selectedSet := make(map[*models.Message]bool, len(filtered))
	selectedReverse := make([]*models.Message, 0)
	for i := len(filtered) - 1; i >= 0; i-- {
		m := filtered[i]
		msgChars := p.messageChars(m)

		// Check if we'd exceed budget
		if totalMsgs+1 > p.opts.MaxMessages || totalChars+msgChars > p.opts.MaxChars {
			break
		}

		selectedReverse = append(selectedReverse, m)
		selectedSet[m] = true
		totalMsgs++
		totalChars += msgChars
	}

	// Reverse selectedReverse to get chronological order
	selected := make([]*models.Message, len(selectedReverse))
	for i, m := range selectedReverse {
		selected[len(selectedReverse)-1-i] = m
	}

	included := 0

	// Build final result in order
	// 1. Summary (if present and enabled)
	if summaryUsed {
		result = append(result, summary)
		if withDiagnostics {
			items = append(items, models.ContextPackItem{
				ID:       itemHash(summary.ID),
				Kind:     models.ContextItemSummary,
				Chars:    summaryChars,
				Included: true,
				Reason:   models.ContextReasonReserved,
			})
		}
	}

	// 2. History messages (in chronological order), selected or dropped
	for _, m := range filtered {
		isSelected := selectedSet[m]
		if isSelected {
			included++
			// Truncate tool results if needed
			packed := p.truncateToolResults(m)
			result = append(result, packed)
		}
		if withDiagnostics {
			reason := models.ContextReasonIncluded
			if !isSelected {
				reason = models.ContextReasonOverBudget
			}
			items = append(items, models.ContextPackItem{
				ID:       itemHash(m.ID),
				Kind:     classifyItemKind(m),
				Chars:    p.messageChars(m),
				Included: isSelected,
				Reason:   reason,
			})
		}
	}

	// 3. Incoming message
	if incoming != nil {
		result = append(result, incoming)
		if withDiagnostics {
			items = append(items, models.ContextPackItem{
				ID:       itemHash(incoming.ID),
				Kind:     models.ContextItemIncoming,
				Chars:    p.messageChars(incoming),
				Included: true,
				Reason:   models.ContextReasonIncluded,
			})
		}
	}

	packResult := PackResult{Messages: result}
	if withDiagnostics {
		packResult.Diagnostics = &models.ContextEventPayload{
			BudgetChars:    p.opts.MaxChars,
			BudgetMessages: p.opts.MaxMessages,
			UsedChars:      totalChars,
			UsedMessages:   totalMsgs,
			Candidates:     len(filtered),
			Included:       included,
			Dropped:        len(filtered) - included,
			SummaryUsed:    summaryUsed,
			SummaryChars:   summaryChars,
			Items:          items,
		}
	}

	return packResult
}

// classifyItemKind categorizes a history message for diagnostics purposes.
func classifyItemKind(m *models.Message) models.ContextItemKind {
	if len(m.ToolCalls) > 0 || len(m.ToolResults) > 0 {
		return models.ContextItemTool
	}
	return models.ContextItemHistory
}

// itemHash returns a short, stable identifier for a message based on its ID.
func itemHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:12]
}

// messageChars estimates the character count for a message.
func (p *Packer) messageChars(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		chars += len(tr.Content)
	}
	return chars
}

// isSummaryMessage checks if a message is a summary marker.
func (p *Packer) isSummaryMessage(m *models.Message) bool {
	if m.Metadata == nil {
		return false
	}
	val, ok := m.Metadata[p.opts.SummaryMetadataKey]
	if !ok {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// truncateToolResults returns a copy with truncated tool result content.
func (p *Packer) truncateToolResults(m *models.Message) *models.Message {
	if len(m.ToolResults) == 0 {
		return m
	}

	// Check if any truncation needed
	needsTruncation := false
	for _, tr := range m.ToolResults {
		if len(tr.Content) > p.opts.MaxToolResultChars {
			needsTruncation = true
			break
		}
	}
	if !needsTruncation {
		return m
	}

	// Create copy with truncated results
	copy := *m
	copy.ToolResults = make([]models.ToolResult, len(m.ToolResults))
	for i, tr := range m.ToolResults {
		if len(tr.Content) > p.opts.MaxToolResultChars {
			truncated := tr
			truncated.Content = tr.Content[:p.opts.MaxToolResultChars] + "\n...[truncated]"
			copy.ToolResults[i] = truncated
		} else {
			copy.ToolResults[i] = tr
		}
	}
	return &copy
}
