package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/guild/task"
)

// Memory tool names.
const (
	ToolMemorize = "MEMORIZE_THIS"
	ToolRecall   = "RECALL_CONTEXT"
)

// MemoryTools returns the long-term memory tools.
func MemoryTools() []Tool {
	return []Tool{
		{
			Name:        ToolMemorize,
			Description: "Store a durable fact in company memory for later recall.",
			Params:      `{"text": "fact to remember", "category": "optional label"}`,
			Handler:     memorize,
		},
		{
			Name:        ToolRecall,
			Description: "Recall the most relevant facts from company memory.",
			Params:      `{"query": "what to look for", "limit": 5}`,
			Handler:     recall,
		},
	}
}

func memorize(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	text, ok := stringArg(payload, "text", "content")
	if !ok {
		return errorResult(ToolMemorize, "payload must include 'text'"), nil
	}
	if env.Memory == nil {
		return errorResult(ToolMemorize, "memory service not configured"), nil
	}
	meta := map[string]string{
		"agent_id": env.AgentID,
		"task_id":  env.Task.ID,
	}
	if category, ok := stringArg(payload, "category"); ok {
		meta["category"] = category
	}
	if err := env.Memory.Memorize(ctx, text, meta); err != nil {
		return task.ActionResult{}, fmt.Errorf("memorize: %w", err)
	}
	return success("fact memorized", nil), nil
}

func recall(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	query, ok := stringArg(payload, "query")
	if !ok {
		return errorResult(ToolRecall, "payload must include 'query'"), nil
	}
	if env.Memory == nil {
		return errorResult(ToolRecall, "memory service not configured"), nil
	}
	found, err := env.Memory.Recall(ctx, query, intArg(payload, "limit", 0))
	if err != nil {
		return task.ActionResult{}, fmt.Errorf("recall: %w", err)
	}
	docs := make([]string, len(found))
	for i, r := range found {
		docs[i] = r.Document
	}
	return success(fmt.Sprintf("recalled %d memories", len(found)), map[string]any{"memories": docs}), nil
}
