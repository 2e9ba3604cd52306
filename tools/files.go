package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/workspace"
)

// File tool names.
const (
	ToolCreateFile = "CREATE_FILE"
	ToolWriteFile  = "WRITE_FILE"
	ToolReadFile   = "READ_FILE"
	ToolListFiles  = "LIST_FILES"
)

// FileTools returns the workspace tools.
func FileTools() []Tool {
	return []Tool{
		{
			Name:        ToolCreateFile,
			Description: "Create an empty file in the company workspace.",
			Params:      `{"path": "relative/path"}`,
			Handler:     createFile,
		},
		{
			Name:        ToolWriteFile,
			Description: "Write content to a file in the company workspace, replacing it unless append is true.",
			Params:      `{"path": "relative/path", "content": "text", "append": false}`,
			Handler:     writeFile,
		},
		{
			Name:        ToolReadFile,
			Description: "Read the content of a file in the company workspace.",
			Params:      `{"path": "relative/path"}`,
			Handler:     readFile,
		},
		{
			Name:        ToolListFiles,
			Description: "List the entries of a workspace directory.",
			Params:      `{"path": "relative/dir"}`,
			Handler:     listFiles,
		},
	}
}

func createFile(_ context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	path, ok := stringArg(payload, "path", "filepath")
	if !ok {
		return errorResult(ToolCreateFile, "payload must include 'path'"), nil
	}
	if res, done := requireWorkspace(env, ToolCreateFile); done {
		return res, nil
	}
	if err := env.Workspace.Write(path, "", true); err != nil {
		return fileError(ToolCreateFile, err)
	}
	return success(fmt.Sprintf("file created at %q", path), map[string]any{"path": path}), nil
}

func writeFile(_ context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	path, ok := stringArg(payload, "path", "filepath")
	content, hasContent := payload["content"].(string)
	if !ok || !hasContent {
		return errorResult(ToolWriteFile, "payload must include 'path' and 'content'"), nil
	}
	if res, done := requireWorkspace(env, ToolWriteFile); done {
		return res, nil
	}
	appendMode := boolArg(payload, "append")
	if err := env.Workspace.Write(path, content, appendMode); err != nil {
		return fileError(ToolWriteFile, err)
	}
	return success(fmt.Sprintf("content written to %q", path), map[string]any{"path": path, "bytes": len(content)}), nil
}

func readFile(_ context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	path, ok := stringArg(payload, "path", "filepath")
	if !ok {
		return errorResult(ToolReadFile, "payload must include 'path'"), nil
	}
	if res, done := requireWorkspace(env, ToolReadFile); done {
		return res, nil
	}
	content, found, err := env.Workspace.Read(path)
	if err != nil {
		return fileError(ToolReadFile, err)
	}
	if !found {
		return errorResult(ToolReadFile, "file not found at %q", path), nil
	}
	return success(content, map[string]any{"path": path, "content": content}), nil
}

func listFiles(_ context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	path, _ := stringArg(payload, "path", "filepath")
	if res, done := requireWorkspace(env, ToolListFiles); done {
		return res, nil
	}
	entries, err := env.Workspace.List(path)
	if err != nil {
		return fileError(ToolListFiles, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
		if e.IsDir {
			names[i] += "/"
		}
	}
	return success(fmt.Sprintf("%d entries", len(entries)), map[string]any{"entries": names}), nil
}

func requireWorkspace(env *Env, tool string) (task.ActionResult, bool) {
	if env.Workspace == nil {
		return errorResult(tool, "no workspace configured"), true
	}
	return task.ActionResult{}, false
}

// fileError reports sandbox violations as input errors. Anything else is
// an I/O fault.
func fileError(tool string, err error) (task.ActionResult, error) {
	if errors.Is(err, workspace.ErrPermissionDenied) {
		return errorResult(tool, "%v", err), nil
	}
	return task.ActionResult{}, err
}
