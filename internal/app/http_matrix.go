package app

import (
	"io"
	"net/http"

	"bizmatrix/api/internal/export"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/rbac"
	"bizmatrix/api/internal/repo"
)

const maxUploadBytes = 25 << 20

func (s *HTTPServer) routeMatrix(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) != 3 || r.Method != http.MethodPost {
		return false
	}

	switch {
	case parts[1] == "tasks" && parts[2] == "parse":
		var body struct {
			Markdown string `json:"markdown"`
			Strategy string `json:"strategy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		tasks, err := s.service.ParseTasks(body.Markdown, body.Strategy)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks":    tasks,
			"strategy": matrix.StrategyByName(body.Strategy).Name(),
		})
		return true

	case parts[1] == "tasks" && parts[2] == "serialize":
		var body struct {
			Tasks []matrix.Task `json:"tasks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		if blank := matrix.BlankRows(body.Tasks); len(blank) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Tasks need a code or a name", map[string]any{"rows": blank})
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"markdown": matrix.SerializeTasksToTable(body.Tasks)})
		return true

	case parts[1] == "tasks" && parts[2] == "display":
		var body struct {
			Tasks []matrix.Task `json:"tasks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"rows": matrix.DisplayRows(body.Tasks)})
		return true

	case parts[1] == "tasks" && parts[2] == "import":
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return true
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field file is required", nil)
			return true
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read upload", nil)
			return true
		}
		tasks, err := s.service.ImportTasks(header.Filename, data)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "strategy": matrix.FixedWidth.Name()})
		return true

	case parts[1] == "assignments" && parts[2] == "parse":
		var body struct {
			Markdown       string        `json:"markdown"`
			Tasks          []matrix.Task `json:"tasks"`
			DepartmentCode string        `json:"departmentCode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		parsed, err := s.service.ParseAssignments(r.Context(), body.Markdown, body.Tasks, body.DepartmentCode)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, parsed)
		return true

	case parts[1] == "assignments" && parts[2] == "audit":
		var body struct {
			Tasks       []matrix.Task      `json:"tasks"`
			Assignments matrix.Assignments `json:"assignments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		issues := matrix.Audit(body.Tasks, body.Assignments)
		writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "ok": len(issues) == 0})
		return true
	}
	return false
}

func (s *HTTPServer) routeVersions(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 {
		return false
	}

	if parts[1] == "active-matrix" && len(parts) == 2 {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, s.service.ActiveMatrix(r.Context()))
			return true
		}
		if r.Method == http.MethodPut {
			if !s.allow(w, r, session, rbac.ActionActivate) {
				return true
			}
			var body struct {
				Confirm bool             `json:"confirm"`
				Data    repo.VersionData `json:"data"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			view, err := s.service.SaveActiveMatrix(r.Context(), body.Data, body.Confirm)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, view)
			return true
		}
		return false
	}

	if parts[1] != "versions" {
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"versions":        s.service.ListVersions(r.Context()),
			"activeVersionId": s.service.ActiveMatrix(r.Context()).ActiveVersionID,
		})
		return true
	}
	if len(parts) == 2 && r.Method == http.MethodPost {
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return true
		}
		var body SaveVersionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		index, err := s.service.SaveVersion(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, map[string]any{"version": index[0], "versions": index})
		return true
	}
	if len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet {
		commits, enabled, err := s.service.VersionHistory()
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled, "commits": commits})
		return true
	}
	if len(parts) == 5 && parts[2] == "history" && r.Method == http.MethodGet {
		entry, err := s.service.ArchivedVersion(parts[3], parts[4])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, entry)
		return true
	}
	if len(parts) == 6 && parts[2] == "history" && parts[5] == "restore" && r.Method == http.MethodPost {
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return true
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		index, err := s.service.RestoreArchivedVersion(r.Context(), session, parts[3], parts[4], body.Name)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, map[string]any{"version": index[0], "versions": index})
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodGet {
		info, data, err := s.service.GetVersion(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": info, "data": data})
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodPut {
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return true
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		info, err := s.service.RenameVersion(r.Context(), session, parts[2], body.Name)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, info)
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return true
		}
		if err := s.service.DeleteVersion(r.Context(), session, parts[2]); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}
	if len(parts) == 4 && parts[3] == "activate" && r.Method == http.MethodPost {
		if !s.allow(w, r, session, rbac.ActionActivate) {
			return true
		}
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		view, err := s.service.ActivateVersion(r.Context(), parts[2], body.Confirm)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, view)
		return true
	}
	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		format, err := export.ParseFormat(body.Format)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		result, err := s.service.ExportVersion(r.Context(), parts[2], format)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeFile(w, result.Data, result.Filename, result.MimeType)
		return true
	}
	return false
}

func (s *HTTPServer) routeSettings(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 {
		return false
	}

	switch parts[1] {
	case "settings":
		if len(parts) != 2 {
			return false
		}
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, s.service.Settings(r.Context()))
			return true
		}
		if r.Method == http.MethodPut {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			var body SettingsInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			settings, err := s.service.UpdateSettings(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, settings)
			return true
		}

	case "api-keys":
		if !s.allow(w, r, session, rbac.ActionAdmin) {
			return true
		}
		if len(parts) == 2 && r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]any{"keys": s.service.ListAPIKeys(r.Context())})
			return true
		}
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body APIKeyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			key, err := s.service.AddAPIKey(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusCreated, key)
			return true
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.DeleteAPIKey(r.Context(), parts[2]); err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
	}
	return false
}
