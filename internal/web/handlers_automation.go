package web

import (
	"errors"
	"net/http"

	"zigbee-endpoints/internal/automation"
)

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) automationsAvailable(w http.ResponseWriter) bool {
	if s.scriptMgr == nil || s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return false
	}
	return true
}

func (s *Server) scriptError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, automation.ErrScriptNotFound) {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	s.logger.Error(op, "err", err)
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.scriptError(w, "create script", err)
		return
	}
	if saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	existing, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.Name != "" {
		existing.Meta.Name = req.Name
	}
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.scriptError(w, "update script", err)
		return
	}
	if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
		s.logger.Error("reload script after update", "id", saved.ID, "err", err)
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	id := r.PathValue("id")
	s.autoEngine.StopScript(id)
	if err := s.scriptMgr.Delete(id); err != nil {
		s.scriptError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation runs a stored script once, or the lua_code of the
// request body when id is "_inline".
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if id == "_inline" {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		if !s.decodeBody(w, r, &req) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsAvailable(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.scriptError(w, "toggle script", err)
		return
	}
	if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
		s.logger.Error("reload script after toggle", "id", saved.ID, "err", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"script":  saved,
		"running": s.autoEngine.Running(saved.ID),
	})
}
