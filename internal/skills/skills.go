// Package skills loads markdown skill packages from a directory and hot
// reloads them on change. A skill contributes a prompt section, optionally
// pins a model tier, and may declare an MCP tool server command.
package skills

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Skill is one loaded skill package.
type Skill struct {
	Name        string
	Description string
	Tier        string // optional model tier override
	MCPCommand  string // optional stdio tool server command
	MCPArgs     []string
	Prompt      string // markdown body injected into the system prompt
}

// Manager watches a skills directory. Each skill is a {name}.md file with a
// small key: value header block followed by the prompt body:
//
//	name: research
//	description: Web research workflows
//	tier: smart
//	mcp: npx -y some-mcp-server
//	---
//	You are in research mode. ...
type Manager struct {
	mu     sync.RWMutex
	skills map[string]Skill
	dir    string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewManager(dir string) (*Manager, error) {
	m := &Manager{
		skills: make(map[string]Skill),
		dir:    dir,
		done:   make(chan struct{}),
	}
	if dir == "" {
		return m, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create skills dir: %w", err)
	}
	m.loadAll()
	return m, nil
}

// Watch starts hot reload. Call Close to stop.
func (m *Manager) Watch() error {
	if m.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}
	m.watcher = w

	go func() {
		for {
			select {
			case <-m.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".md" {
					continue
				}
				slog.Info("skills changed, reloading", "event", ev.Op.String(), "file", filepath.Base(ev.Name))
				m.loadAll()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() {
	close(m.done)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// Get returns a skill by name.
func (m *Manager) Get(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	return s, ok
}

// List returns all loaded skills.
func (m *Manager) List() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	return out
}

func (m *Manager) loadAll() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	loaded := make(map[string]Skill)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		s, err := parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping invalid skill file", "file", e.Name(), "error", err)
			continue
		}
		loaded[s.Name] = s
	}
	m.mu.Lock()
	m.skills = loaded
	m.mu.Unlock()
	slog.Info("skills loaded", "count", len(loaded))
}

func parseFile(path string) (Skill, error) {
	f, err := os.Open(path)
	if err != nil {
		return Skill{}, err
	}
	defer f.Close()

	s := Skill{Name: strings.TrimSuffix(filepath.Base(path), ".md")}
	sc := bufio.NewScanner(f)
	inHeader := true
	var body strings.Builder

	for sc.Scan() {
		line := sc.Text()
		if inHeader {
			if strings.TrimSpace(line) == "---" {
				inHeader = false
				continue
			}
			key, val, ok := strings.Cut(line, ":")
			if !ok {
				// no header separator seen yet but line is not key:value;
				// treat the whole file as body
				inHeader = false
				body.WriteString(line + "\n")
				continue
			}
			val = strings.TrimSpace(val)
			switch strings.TrimSpace(strings.ToLower(key)) {
			case "name":
				if val != "" {
					s.Name = val
				}
			case "description":
				s.Description = val
			case "tier":
				s.Tier = val
			case "mcp":
				parts := strings.Fields(val)
				if len(parts) > 0 {
					s.MCPCommand = parts[0]
					s.MCPArgs = parts[1:]
				}
			}
			continue
		}
		body.WriteString(line + "\n")
	}
	if err := sc.Err(); err != nil {
		return Skill{}, err
	}
	s.Prompt = strings.TrimSpace(body.String())
	if s.Name == "" {
		return Skill{}, fmt.Errorf("skill has no name")
	}
	return s, nil
}
