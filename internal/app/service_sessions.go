package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"afkar/api/internal/realtime"
	"afkar/api/internal/store"
	"afkar/api/internal/util"
)

type StartSessionInput struct {
	StudyID    string          `json:"studyId"`
	UserID     string          `json:"userId"`
	DeviceInfo json.RawMessage `json:"deviceInfo"`
}

type ProgressInput struct {
	SessionID   string         `json:"sessionId"`
	CurrentStep *int           `json:"currentStep"`
	Responses   map[string]any `json:"responses"`
}

type CompleteInput struct {
	SessionID      string         `json:"sessionId"`
	FinalResponses map[string]any `json:"finalResponses"`
	Responses      map[string]any `json:"responses"`
	Feedback       string         `json:"feedback"`
}

// finalResponses returns the answers submitted with the completion.
// "responses" is accepted as an alias for "finalResponses".
func (input CompleteInput) finalResponses() map[string]any {
	if input.FinalResponses != nil {
		return input.FinalResponses
	}
	if input.Responses != nil {
		return input.Responses
	}
	return map[string]any{}
}

// StartSession opens a participant session against an active study.
func (s *Service) StartSession(ctx context.Context, sess Session, input StartSessionInput) (map[string]any, error) {
	if input.StudyID == "" || input.UserID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "studyId and userId are required", nil)
	}
	if input.UserID != sess.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Cannot start a session for another user", nil)
	}

	study, err := s.store.GetStudy(ctx, input.StudyID)
	if err != nil {
		return nil, err
	}
	if study.Status != "active" {
		return nil, domainError(http.StatusBadRequest, "STUDY_NOT_ACTIVE", "Study is not accepting participants", nil)
	}

	deviceInfo := "{}"
	if len(input.DeviceInfo) > 0 && json.Valid(input.DeviceInfo) {
		deviceInfo = string(input.DeviceInfo)
	}

	item := store.StudySession{
		ID:            util.NewID("sess"),
		StudyID:       input.StudyID,
		ParticipantID: input.UserID,
		Status:        "in_progress",
		CurrentStep:   0,
		Responses:     "{}",
		DeviceInfo:    deviceInfo,
	}
	if err := s.store.InsertSession(ctx, item); err != nil {
		return nil, err
	}

	if s.hub != nil {
		_ = s.hub.Publish(ctx, realtime.Event{
			StudyID:   item.StudyID,
			Type:      realtime.EventParticipantJoined,
			UserID:    item.ParticipantID,
			SessionID: item.ID,
		})
	}

	return sessionPayload(item), nil
}

// RecordProgress saves the participant's position and partial responses.
func (s *Service) RecordProgress(ctx context.Context, sess Session, sessionID string, input ProgressInput) (map[string]any, error) {
	if input.CurrentStep == nil || *input.CurrentStep < 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "currentStep is required", nil)
	}

	responses := input.Responses
	if responses == nil {
		responses = map[string]any{}
	}
	encoded, err := json.Marshal(responses)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateSessionProgress(ctx, sessionID, sess.UserID, *input.CurrentStep, string(encoded))
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, s.explainSessionUpdateFailure(ctx, sess, sessionID)
	}

	item, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		payload, _ := json.Marshal(map[string]any{"currentStep": item.CurrentStep})
		_ = s.hub.Publish(ctx, realtime.Event{
			StudyID:   item.StudyID,
			Type:      realtime.EventParticipantProgress,
			UserID:    item.ParticipantID,
			SessionID: item.ID,
			Payload:   payload,
		})
	}

	return sessionPayload(item), nil
}

// CompleteSession finalizes a session. Completing is not idempotent; a
// second attempt is rejected.
func (s *Service) CompleteSession(ctx context.Context, sess Session, sessionID string, input CompleteInput) (map[string]any, error) {
	encoded, err := json.Marshal(input.finalResponses())
	if err != nil {
		return nil, err
	}

	completed, err := s.store.CompleteSession(ctx, sessionID, sess.UserID, string(encoded), input.Feedback)
	if err != nil {
		return nil, err
	}
	if !completed {
		item, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if item.ParticipantID != sess.UserID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		return nil, domainError(http.StatusBadRequest, "SESSION_COMPLETED", "Session already completed", nil)
	}

	item, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		_ = s.hub.Publish(ctx, realtime.Event{
			StudyID:   item.StudyID,
			Type:      realtime.EventParticipantCompleted,
			UserID:    item.ParticipantID,
			SessionID: item.ID,
		})
	}

	return sessionPayload(item), nil
}

// GetSessionResults returns a session with its responses. Participants see
// their own sessions; study owners, editing collaborators, and admins see
// any session of the study.
func (s *Service) GetSessionResults(ctx context.Context, sess Session, sessionID string) (map[string]any, error) {
	item, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if item.ParticipantID != sess.UserID {
		accessRole, err := s.studyAccess(ctx, sess, item.StudyID)
		if err != nil {
			return nil, err
		}
		if accessRole == "" {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	return sessionPayload(item), nil
}

// ListStudySessions returns all sessions of a study for its researchers.
func (s *Service) ListStudySessions(ctx context.Context, sess Session, studyID string) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	items, err := s.store.ListSessionsByStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, sessionPayload(item))
	}
	return payload, nil
}

// explainSessionUpdateFailure turns a zero-row progress update into the
// right client error: the session is missing, belongs to someone else, or
// already finished.
func (s *Service) explainSessionUpdateFailure(ctx context.Context, sess Session, sessionID string) error {
	item, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
		}
		return err
	}
	if item.ParticipantID != sess.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return domainError(http.StatusBadRequest, "SESSION_COMPLETED", "Session already completed", nil)
}

func sessionPayload(item store.StudySession) map[string]any {
	responses := json.RawMessage(item.Responses)
	if len(responses) == 0 {
		responses = json.RawMessage("{}")
	}
	payload := map[string]any{
		"id":            item.ID,
		"studyId":       item.StudyID,
		"participantId": item.ParticipantID,
		"status":        item.Status,
		"currentStep":   item.CurrentStep,
		"responses":     responses,
		"startedAt":     item.StartedAt,
		"updatedAt":     item.UpdatedAt,
	}
	if item.Feedback != "" {
		payload["feedback"] = item.Feedback
	}
	if item.EndedAt != nil {
		payload["endedAt"] = item.EndedAt
	}
	return payload
}
