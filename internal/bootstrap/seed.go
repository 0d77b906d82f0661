// Package bootstrap seeds a fresh workspace with its starting files and
// resolves the base system prompt.
package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
)

// AgentFile holds the base system prompt; users edit it to shape the
// assistant's persona.
const AgentFile = "AGENT.md"

const defaultAgentPrompt = `# Agent

You are a capable personal assistant. Be direct and concise. Use the
available tools when they help; do not narrate tool usage. When a request
is ambiguous, ask one clarifying question instead of guessing.

Reply with NO_REPLY when an incoming message needs no response.
`

const exampleSkill = `name: research
description: Structured research with web search and fetch
tier: smart
---
When researching, search first, then fetch the two most promising results
and cite the URLs you relied on.
`

// EnsureWorkspace creates the workspace and skills directories and seeds
// starter files. Existing files are never overwritten. Returns the list of
// files created.
func EnsureWorkspace(workspace, skillsDir string) ([]string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}
	if skillsDir != "" {
		if err := os.MkdirAll(skillsDir, 0o755); err != nil {
			return nil, err
		}
	}

	var created []string
	if ok, err := seedFile(filepath.Join(workspace, AgentFile), defaultAgentPrompt); err != nil {
		return created, err
	} else if ok {
		created = append(created, AgentFile)
	}
	if skillsDir != "" {
		if ok, _ := seedFile(filepath.Join(skillsDir, "research.md"), exampleSkill); ok {
			created = append(created, "research.md")
		}
	}
	return created, nil
}

// AgentPrompt returns the workspace's base prompt, falling back to the
// built-in default when AGENT.md is absent or empty.
func AgentPrompt(workspace string) string {
	data, err := os.ReadFile(filepath.Join(workspace, AgentFile))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return defaultAgentPrompt
	}
	return string(data)
}

// seedFile creates the file with content only if it does not exist yet.
func seedFile(path, content string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return false, err
	}
	return true, nil
}
