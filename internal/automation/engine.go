//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigbee-endpoints/internal/coordinator"
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// eventFilter narrows a handler to events whose data carries the given
// values. Zero values match anything.
type eventFilter struct {
	ieee     string
	endpoint uint8
	cluster  int // -1 = any
	attr     string
	command  string
}

// luaEventHandler is a callback registered with zigbee.on.
type luaEventHandler struct {
	eventType string
	filter    eventFilter
	fn        *lua.LFunction
}

// scriptVM is the Lua state of one running script. All Lua calls go
// through commands so the state is only touched by its own goroutine.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	logs     func(string) // nil outside one-shot runs
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs enabled scripts and dispatches bus events to them.
type Engine struct {
	coord   *coordinator.Coordinator
	manager *Manager
	logger  *slog.Logger

	// commandTimeout bounds device operations started from scripts.
	commandTimeout time.Duration

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(coord *coordinator.Coordinator, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		coord:          coord,
		manager:        mgr,
		logger:         logger.With("component", "automation"),
		commandTimeout: 5 * time.Second,
		vms:            make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.coord.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop stops every script and unsubscribes from the bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running reports whether the script is loaded.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript restarts a script from disk. Disabled scripts are only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript executes a stored script once, see RunLuaCode.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode runs code in a throwaway VM. Handlers the code registers are
// invoked once with a synthetic event of their type and filter, and log
// output is captured.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm := e.newVM(ctx, cancel)
	defer vm.state.Close()
	vm.logs = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}

	fail := func(err error) *RunResult {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || strings.Contains(msg, "context deadline exceeded") {
			msg = "timeout (5s)"
		}
		return &RunResult{Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := vm.state.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	hs := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range hs {
		data := map[string]interface{}{"value": true}
		if h.filter.ieee != "" {
			data["ieee"] = h.filter.ieee
		}
		if h.filter.endpoint != 0 {
			data["endpoint"] = h.filter.endpoint
		}
		if h.filter.cluster >= 0 {
			data["cluster_id"] = uint16(h.filter.cluster)
		}
		if h.filter.attr != "" {
			data["attr_name"] = h.filter.attr
		}
		if h.filter.command != "" {
			data["command"] = h.filter.command
		}
		err := vm.state.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true},
			eventTable(vm.state, coordinator.Event{Type: h.eventType, Data: data}))
		if err != nil {
			return fail(err)
		}
	}

	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

// newVM creates a sandboxed Lua state with the zigbee and system modules.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerZigbeeModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)

	if err := vm.state.DoString(s.LuaCode); err != nil {
		cancel()
		vm.state.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer vm.state.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(vm.state)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VMs.
func (e *Engine) dispatchEvent(event coordinator.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		hs := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range hs {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "event", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event coordinator.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	f := h.filter
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return f == eventFilter{cluster: -1}
	}
	if f.ieee != "" {
		if ieee, _ := data["ieee"].(string); !strings.EqualFold(ieee, f.ieee) {
			return false
		}
	}
	if f.endpoint != 0 && eventEndpoint(data) != f.endpoint {
		return false
	}
	if f.cluster >= 0 {
		if c, ok := data["cluster_id"].(uint16); !ok || int(c) != f.cluster {
			return false
		}
	}
	if f.attr != "" {
		if a, _ := data["attr_name"].(string); a != f.attr {
			return false
		}
	}
	if f.command != "" {
		if c, _ := data["command"].(string); c != f.command {
			return false
		}
	}
	return true
}

// eventEndpoint reads the endpoint of attribute reports ("endpoint") and
// endpoint events ("endpoint_id").
func eventEndpoint(data map[string]interface{}) uint8 {
	if ep, ok := data["endpoint"].(uint8); ok {
		return ep
	}
	ep, _ := data["endpoint_id"].(uint8)
	return ep
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event coordinator.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "err", err, "event", event.Type)
	}
}

// eventTable converts an event to the table passed to handlers.
func eventTable(L *lua.LState, event coordinator.Event) *lua.LTable {
	t := L.NewTable()
	if data, ok := event.Data.(map[string]interface{}); ok {
		for k, v := range data {
			t.RawSetString(k, goToLua(L, v))
		}
	}
	t.RawSetString("type", lua.LString(event.Type))
	return t
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []byte:
		return lua.LString(fmt.Sprintf("%X", val))
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
