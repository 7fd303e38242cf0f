package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"pullsched/schederr"
)

func (s *Server) settingsUnavailable(w http.ResponseWriter) bool {
	if s.settings == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope{Detail: "settings store not configured", Code: string(schederr.StorageError)})
		return true
	}
	return false
}

// handleSettingsCollection serves GET /system/settings (list every key).
func (s *Server) handleSettingsCollection(w http.ResponseWriter, r *http.Request) {
	if s.settingsUnavailable(w) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all, err := s.settings.All()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// handleSettingsKey serves GET/PUT/DELETE /system/settings/{key}.
func (s *Server) handleSettingsKey(w http.ResponseWriter, r *http.Request) {
	if s.settingsUnavailable(w) {
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/system/settings/")
	if key == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.settings.Get(key)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, errEnvelope{Detail: "setting not found", Code: "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, json.RawMessage(val))
	case http.MethodPut:
		var body interface{}
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := s.settings.Put(key, body); err != nil {
			writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := s.settings.Delete(key); err != nil {
			writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
