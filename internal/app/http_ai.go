package app

import (
	"io"
	"net/http"
	"strings"

	"bizmatrix/api/internal/rbac"
)

func (s *HTTPServer) routeAI(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) != 3 || parts[1] != "ai" || r.Method != http.MethodPost {
		return false
	}
	if !s.allow(w, r, session, rbac.ActionGenerate) {
		return true
	}

	switch parts[2] {
	case "tasks":
		var body GenerateTasksInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		result, err := s.service.GenerateTasks(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, result)
		return true

	case "assignments":
		var body GenerateAssignmentsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		parsed, err := s.service.GenerateAssignments(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, parsed)
		return true

	case "department-matrix":
		var body GenerateDepartmentMatrixInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		parsed, err := s.service.GenerateDepartmentMatrix(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, parsed)
		return true

	case "task-suggestions":
		var body SuggestTasksInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		result, err := s.service.SuggestTasks(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, result)
		return true

	case "kpi-suggestions":
		var body SuggestKPIsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		result, err := s.service.SuggestKPIs(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, result)
		return true
	}
	return false
}

func (s *HTTPServer) routeConversations(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 {
		return false
	}

	if parts[1] == "attachments" && len(parts) > 2 && r.Method == http.MethodGet {
		data, contentType, err := s.service.Attachment(r.Context(), strings.Join(parts[2:], "/"))
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeFile(w, data, parts[len(parts)-1], contentType)
		return true
	}

	if parts[1] != "conversations" {
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"conversations": s.service.ListConversations(r.Context())})
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodGet {
		conv, err := s.service.GetConversation(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, conv)
		return true
	}

	if !s.allow(w, r, session, rbac.ActionGenerate) {
		return true
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		conv, err := s.service.CreateConversation(r.Context(), body.Title)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, conv)
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteConversation(r.Context(), parts[2]); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}
	if len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodPost {
		message, upload, ok := readChatMessage(w, r)
		if !ok {
			return true
		}
		conv, err := s.service.SendMessage(r.Context(), parts[2], message, upload)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, conv)
		return true
	}
	return false
}

// readChatMessage accepts either a JSON body {"message"} or a multipart form with a
// message field and an optional file.
func readChatMessage(w http.ResponseWriter, r *http.Request) (string, *Upload, bool) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return "", nil, false
		}
		return body.Message, nil, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return "", nil, false
	}
	message := r.FormValue("message")
	file, header, err := r.FormFile("file")
	if err != nil {
		return message, nil, true
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read upload", nil)
		return "", nil, false
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return message, &Upload{Name: header.Filename, MimeType: mimeType, Data: data}, true
}

func (s *HTTPServer) routeAnalyses(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 {
		return false
	}

	if parts[1] == "factors" && len(parts) == 2 && r.Method == http.MethodGet {
		factors, err := s.service.Factors()
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"factors": factors})
		return true
	}

	if parts[1] != "analyses" {
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"analyses": s.service.ListAnalyses()})
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodGet {
		snapshot, err := s.service.Analysis(parts[2])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, snapshot)
		return true
	}

	if !s.allow(w, r, session, rbac.ActionGenerate) {
		return true
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			FactorIDs []string `json:"factorIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		snapshot, err := s.service.CreateAnalysis(r.Context(), body.FactorIDs)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, snapshot)
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteAnalysis(parts[2]); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}
	if len(parts) == 4 && r.Method == http.MethodPost {
		switch parts[3] {
		case "start", "pause", "resume":
			snapshot, err := s.service.ControlAnalysis(parts[2], parts[3])
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, snapshot)
			return true
		case "step":
			item, snapshot, err := s.service.StepAnalysis(r.Context(), parts[2])
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item, "analysis": snapshot})
			return true
		case "run":
			var body struct {
				Concurrency int `json:"concurrency"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			snapshot, err := s.service.RunAnalysis(r.Context(), parts[2], body.Concurrency)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, snapshot)
			return true
		}
	}
	return false
}
