//go:build !no_automation

package automation

import (
	"context"
	"log/slog"
	"os"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newSystemState returns a Lua state with only the system module and the
// log lines it captured.
func newSystemState(t *testing.T) (*lua.LState, *[]string) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)

	var logs []string
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	vm := &scriptVM{state: L, ctx: ctx, cancel: cancel, logs: func(s string) { logs = append(logs, s) }}
	registerSystemModule(L, vm, &Engine{logger: testLogger()})
	return L, &logs
}

func TestSystemDatetime(t *testing.T) {
	L, _ := newSystemState(t)

	tests := []struct {
		component string
		want      lua.LValueType
	}{
		{"hour", lua.LTNumber},
		{"minute", lua.LTNumber},
		{"second", lua.LTNumber},
		{"weekday", lua.LTNumber},
		{"day", lua.LTNumber},
		{"month", lua.LTNumber},
		{"year", lua.LTNumber},
		{"timestamp", lua.LTNumber},
		{"time_str", lua.LTString},
		{"date_str", lua.LTString},
	}
	for _, tt := range tests {
		L.SetGlobal("_comp", lua.LString(tt.component))
		if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
			t.Fatalf("system.datetime(%q): %v", tt.component, err)
		}
		if got := L.GetGlobal("_result").Type(); got != tt.want {
			t.Errorf("system.datetime(%q) type = %v, want %v", tt.component, got, tt.want)
		}
	}
}

func TestSystemDatetimeUnknownComponent(t *testing.T) {
	L, _ := newSystemState(t)
	if err := L.DoString(`system.datetime("fortnight")`); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestHourBetween(t *testing.T) {
	tests := []struct {
		hour, from, to int
		want           bool
	}{
		{10, 8, 22, true},
		{8, 8, 22, true},
		{22, 8, 22, false},
		{7, 8, 22, false},
		{23, 22, 6, true},
		{0, 22, 6, true},
		{5, 22, 6, true},
		{6, 22, 6, false},
		{12, 22, 6, false},
		{3, 5, 5, false},
	}
	for _, tt := range tests {
		if got := hourBetween(tt.hour, tt.from, tt.to); got != tt.want {
			t.Errorf("hourBetween(%d, %d, %d) = %v, want %v", tt.hour, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSystemTimeBetweenReturnsBool(t *testing.T) {
	L, _ := newSystemState(t)
	if err := L.DoString(`_result = system.time_between(0, 24)`); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("_result") != lua.LTrue {
		t.Error("time_between(0, 24) = false, want true")
	}
}

func TestSystemLogCaptured(t *testing.T) {
	L, logs := newSystemState(t)
	if err := L.DoString(`system.log("warn", "door open")`); err != nil {
		t.Fatal(err)
	}
	if len(*logs) != 1 || (*logs)[0] != "[warn] door open" {
		t.Errorf("logs = %q", *logs)
	}
}
