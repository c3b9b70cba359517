package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgekit/agentcore/pkg/models"
)

// applyTitleDerivation replaces a placeholder project name (the project id,
// set by models.NewProjectContext for every freshly registered project)
// with a human title derived from the first user message. Projects that
// already have a real name are left untouched.
func (o *Orchestrator) applyTitleDerivation(ctx context.Context, projectID, userMessage string) error {
	ctxt, err := o.store.Get(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if ctxt.ProjectName != projectID {
		return nil
	}

	title := deriveProjectTitle(userMessage)
	if title == "" {
		return nil
	}

	_, err = o.store.Update(ctx, projectID, models.ContextPatch{ProjectName: &title})
	return err
}

const maxDerivedTitleLength = 50

// titleStopwords are filler words common in first-turn build requests that
// carry no naming signal on their own.
var titleStopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"build": true, "create": true, "make": true, "generate": true,
	"me": true, "us": true, "i": true, "we": true,
	"for": true, "to": true, "please": true, "want": true, "need": true,
	"up": true, "with": true, "of": true, "new": true,
}

// deriveProjectTitle picks a human title out of a first user message by
// dropping filler words and title-casing the first substantive token, e.g.
// "create a portfolio for a photographer" -> "Portfolio".
func deriveProjectTitle(userMessage string) string {
	fields := strings.Fields(userMessage)
	for _, f := range fields {
		word := strings.Trim(f, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if titleStopwords[strings.ToLower(word)] {
			continue
		}
		return truncateTitle(titleCase(word))
	}
	return truncateTitle(titleCase(strings.TrimSpace(userMessage)))
}

func titleCase(word string) string {
	if word == "" {
		return word
	}
	r := []rune(strings.ToLower(word))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func truncateTitle(title string) string {
	if len(title) <= maxDerivedTitleLength {
		return title
	}
	return title[:maxDerivedTitleLength]
}
