//go:build !no_automation

package web

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"zigbee-endpoints/internal/automation"
)

func setupAutomationServer(t *testing.T) *testEnv {
	t.Helper()
	env := setupTestServer(t)
	mgr, err := automation.NewManager(filepath.Join(t.TempDir(), "scripts"), env.srv.logger)
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(env.coord, mgr, env.srv.logger)
	engine.Start()
	t.Cleanup(engine.Stop)
	WithAutomation(engine, mgr)(env.srv)
	return env
}

func TestAPIAutomationLifecycle(t *testing.T) {
	env := setupAutomationServer(t)

	w := env.do(t, "POST", "/api/automations", `{"name":"Night Light","lua_code":"zigbee.log(\"hi\")","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created automation.Script
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "night_light" {
		t.Fatalf("id = %q", created.ID)
	}
	if !env.srv.autoEngine.Running(created.ID) {
		t.Error("enabled script not running after create")
	}

	w = env.do(t, "POST", "/api/automations/night_light/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	var toggled struct {
		Script  automation.Script `json:"script"`
		Running bool              `json:"running"`
	}
	if err := json.NewDecoder(w.Body).Decode(&toggled); err != nil {
		t.Fatal(err)
	}
	if toggled.Script.Meta.Enabled || toggled.Running {
		t.Errorf("after toggle = %+v", toggled)
	}

	w = env.do(t, "GET", "/api/automations", "")
	var list []automation.Script
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if w := env.do(t, "DELETE", "/api/automations/night_light", ""); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/automations/night_light", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestAPIAutomationValidation(t *testing.T) {
	env := setupAutomationServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", "POST", "/api/automations", `{"lua_code":""}`, http.StatusBadRequest},
		{"bad json", "POST", "/api/automations", `{`, http.StatusBadRequest},
		{"update unknown", "PUT", "/api/automations/nope", `{"name":"x"}`, http.StatusNotFound},
		{"toggle unknown", "POST", "/api/automations/nope/toggle", "", http.StatusNotFound},
		{"delete unknown", "DELETE", "/api/automations/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIRunInlineAutomation(t *testing.T) {
	env := setupAutomationServer(t)

	w := env.do(t, "POST", "/api/automations/_inline/run", `{"lua_code":"zigbee.log(#zigbee.devices())"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res automation.RunResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "1" {
		t.Errorf("result = %+v", res)
	}
}

func TestAPIAutomationsUnavailable(t *testing.T) {
	env := setupTestServer(t)
	if w := env.do(t, "GET", "/api/automations", ""); w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("list without engine = %d %q", w.Code, w.Body.String())
	}
	if w := env.do(t, "POST", "/api/automations/_inline/run", `{"lua_code":""}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run without engine status = %d", w.Code)
	}
}
