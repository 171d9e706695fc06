//go:build no_automation

package automation

import (
	"errors"
	"log/slog"

	"zigbee-endpoints/internal/coordinator"
)

// ErrScriptNotFound is returned for ids without a script file.
var ErrScriptNotFound = errors.New("script not found")

var errDisabled = errors.New("automation disabled")

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return &Manager{}, nil }

func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(id string) (*Script, error)  { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(id string) error          { return ErrScriptNotFound }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

func NewEngine(_ *coordinator.Coordinator, _ *Manager, _ *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running(_ string) bool       { return false }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{Error: errDisabled.Error(), Duration: "0s"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{Error: errDisabled.Error(), Duration: "0s"}
}
