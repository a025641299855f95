package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"afkar/api/internal/export"
	"afkar/api/internal/rbac"
)

func (s *HTTPServer) handleStudies(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /api/studies
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListStudies(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeSuccess(w, http.StatusOK, payload)
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.CreateStudy(r.Context(), session, body.Title, body.Description)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeSuccess(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	studyID := parts[0]

	// /api/studies/{id}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetStudy(r.Context(), session, studyID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeSuccess(w, http.StatusOK, payload)
		case http.MethodPut:
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Status      string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.UpdateStudy(r.Context(), session, studyID, body.Title, body.Description, body.Status)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeSuccess(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteStudy(r.Context(), session, studyID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeMessage(w, http.StatusOK, "Study deleted")
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch parts[1] {
	case "blocks":
		s.handleStudyBlocks(w, r, session, studyID)
	case "history":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		payload, err := s.service.StudyHistory(r.Context(), session, studyID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case "versions":
		if len(parts) != 3 || r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		payload, err := s.service.StudyVersion(r.Context(), session, studyID, parts[2])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case "collaborators":
		s.handleCollaborators(w, r, session, studyID, parts[2:])
	case "comments":
		s.handleComments(w, r, session, studyID, parts[2:])
	case "sessions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		payload, err := s.service.ListStudySessions(r.Context(), session, studyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case "uploads":
		s.handleUploads(w, r, session, studyID)
	case "join":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := s.service.JoinStudyRoom(r.Context(), session, studyID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "Joined study room")
	case "events":
		s.handleStudyEvents(w, r, session, studyID)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) handleStudyBlocks(w http.ResponseWriter, r *http.Request, session Session, studyID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetBlocks(r.Context(), session, studyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			Blocks []BlockInput `json:"blocks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.ReplaceStudyBlocks(r.Context(), session, studyID, body.Blocks)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, session Session, studyID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListCollaborators(r.Context(), session, studyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.AddCollaborator(r.Context(), session, studyID, body.Email, body.Role)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, payload)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.RemoveCollaborator(r.Context(), session, studyID, rest[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "Collaborator removed")
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, session Session, studyID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListComments(r.Context(), session, studyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			BlockID string `json:"blockId"`
			Body    string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.CreateComment(r.Context(), session, studyID, body.BlockID, body.Body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, payload)
	case len(rest) == 2 && rest[1] == "resolve" && r.Method == http.MethodPost:
		if err := s.service.ResolveComment(r.Context(), session, studyID, rest[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "Comment resolved")
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handleExport serves GET /api/export/{type}?studyId= as a raw download
// rather than the JSON envelope. Types: responses (long CSV), sessions
// (wide CSV), summary (PDF report).
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, exportType string) {
	studyID := r.URL.Query().Get("studyId")
	if studyID == "" {
		writeError(w, http.StatusBadRequest, "studyId is required")
		return
	}

	var (
		format export.Format
		layout export.Layout
	)
	switch exportType {
	case "responses":
		format, layout = export.FormatCSV, export.LayoutResponses
	case "sessions":
		format, layout = export.FormatCSV, export.LayoutSessions
	case "summary":
		format = export.FormatPDF
	default:
		writeError(w, http.StatusBadRequest, "unknown export type: "+exportType)
		return
	}

	result, err := s.service.ExportResults(r.Context(), session, studyID, format, layout)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusServiceUnavailable, "PDF rendering unavailable")
			return
		}
		writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUploads(w http.ResponseWriter, r *http.Request, session Session, studyID string) {
	if r.Method == http.MethodGet {
		payload, err := s.service.ListStudyUploads(r.Context(), session, studyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body struct {
		BlockID     string `json:"blockId"`
		SessionID   string `json:"sessionId"`
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	payload, err := s.service.CreateUploadTicket(r.Context(), session, studyID, body.BlockID, body.SessionID, body.Filename, body.ContentType)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, payload)
}

// handleStudyEvents streams study room events over SSE.
func (s *HTTPServer) handleStudyEvents(w http.ResponseWriter, r *http.Request, session Session, studyID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	hub := s.service.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Realtime not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	if err := s.service.JoinStudyRoom(r.Context(), session, studyID); err != nil {
		writeMappedError(w, err)
		return
	}

	ch := hub.Join(studyID)
	defer hub.Leave(studyID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// Study-session operations address the session in the request body; only
// results reads take the id in the path.
func (s *HTTPServer) handleStudySessions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "start" && r.Method == http.MethodPost:
		var body StartSessionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.StartSession(r.Context(), session, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, payload)

	case len(parts) == 1 && parts[0] == "progress" && r.Method == http.MethodPost:
		var body ProgressInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.SessionID == "" {
			writeError(w, http.StatusBadRequest, "sessionId is required")
			return
		}
		payload, err := s.service.RecordProgress(r.Context(), session, body.SessionID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	case len(parts) == 1 && parts[0] == "complete" && r.Method == http.MethodPost:
		var body CompleteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.SessionID == "" {
			writeError(w, http.StatusBadRequest, "sessionId is required")
			return
		}
		payload, err := s.service.CompleteSession(r.Context(), session, body.SessionID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	case len(parts) == 2 && parts[0] == "results" && r.Method == http.MethodGet:
		payload, err := s.service.GetSessionResults(r.Context(), session, parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}
