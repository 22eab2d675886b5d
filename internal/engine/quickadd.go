package engine

import (
	"context"

	"todome/internal/domain"
	"todome/internal/parse"
)

// QuickAdd creates a task from one line of quick-add input, resolving
// mentioned tags to ids and creating tags on first use.
func (e Engine) QuickAdd(ctx context.Context, ownerID, input string) (domain.Task, parse.ParsedInput, error) {
	parsed := parse.QuickAdd(input, e.now().UTC())
	if parsed.Title == "" {
		return domain.Task{}, parsed, invalidf("quick-add input has no title")
	}
	var tagIDs []string
	for _, name := range parsed.TagNames {
		tag, err := e.EnsureTag(ctx, ownerID, name)
		if err != nil {
			return domain.Task{}, parsed, err
		}
		tagIDs = append(tagIDs, tag.ID)
	}
	t, err := e.CreateTask(ctx, ownerID, TaskCreateOptions{
		Title:          parsed.Title,
		Priority:       parsed.Priority,
		DueDate:        parsed.DueDate,
		DueTime:        parsed.DueTime,
		TagIDs:         tagIDs,
		Recurring:      parsed.Recurring,
		RecurrenceRule: parsed.RecurrenceRule,
		RecurrenceType: parsed.RecurrenceType,
	})
	if err != nil {
		return domain.Task{}, parsed, err
	}
	return t, parsed, nil
}

// ParsePreview runs the quick-add parser without creating anything.
func (e Engine) ParsePreview(input string) parse.ParsedInput {
	return parse.QuickAdd(input, e.now().UTC())
}
