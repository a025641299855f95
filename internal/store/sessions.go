package store

import (
	"context"
	"fmt"
)

// InsertSession creates a new in_progress session at step 0.
func (s *PostgresStore) InsertSession(ctx context.Context, session StudySession) error {
	deviceInfo := session.DeviceInfo
	if deviceInfo == "" {
		deviceInfo = "{}"
	}
	responses := session.Responses
	if responses == "" {
		responses = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_sessions (id, study_id, participant_id, status, current_step, responses, device_info)
		VALUES ($1, $2, $3, 'in_progress', 0, $4::jsonb, $5::jsonb)
	`, session.ID, session.StudyID, session.ParticipantID, responses, deviceInfo)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (StudySession, error) {
	var item StudySession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, study_id, participant_id, status, current_step,
			COALESCE(responses::text, '{}'), COALESCE(device_info::text, '{}'),
			COALESCE(feedback, ''), started_at, ended_at, updated_at
		FROM study_sessions
		WHERE id=$1
	`, sessionID).Scan(
		&item.ID, &item.StudyID, &item.ParticipantID, &item.Status, &item.CurrentStep,
		&item.Responses, &item.DeviceInfo, &item.Feedback,
		&item.StartedAt, &item.EndedAt, &item.UpdatedAt,
	)
	if err != nil {
		return StudySession{}, err
	}
	return item, nil
}

// UpdateSessionProgress merges the submitted responses into the stored map and
// overwrites current_step. The owner and status filters are part of the UPDATE
// so a non-owner write or a write to a finished session affects zero rows.
// Concurrent submissions for the same session are last-write-wins.
func (s *PostgresStore) UpdateSessionProgress(ctx context.Context, sessionID, participantID string, currentStep int, responsesJSON string) (bool, error) {
	if responsesJSON == "" {
		responsesJSON = "{}"
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE study_sessions
		SET current_step=$3, responses = responses || $4::jsonb, updated_at=NOW()
		WHERE id=$1 AND participant_id=$2 AND status='in_progress'
	`, sessionID, participantID, currentStep, responsesJSON)
	if err != nil {
		return false, fmt.Errorf("update session progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session progress rows: %w", err)
	}
	return affected > 0, nil
}

// CompleteSession transitions in_progress → completed exactly once. A second
// completion affects zero rows and is reported to the caller as a conflict.
func (s *PostgresStore) CompleteSession(ctx context.Context, sessionID, participantID, finalResponsesJSON, feedback string) (bool, error) {
	if finalResponsesJSON == "" {
		finalResponsesJSON = "{}"
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE study_sessions
		SET status='completed', ended_at=NOW(), responses = responses || $3::jsonb,
			feedback=NULLIF($4, ''), updated_at=NOW()
		WHERE id=$1 AND participant_id=$2 AND status='in_progress'
	`, sessionID, participantID, finalResponsesJSON, feedback)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete session rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListSessionsByStudy(ctx context.Context, studyID string) ([]StudySession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_id, participant_id, status, current_step,
			COALESCE(responses::text, '{}'), COALESCE(device_info::text, '{}'),
			COALESCE(feedback, ''), started_at, ended_at, updated_at
		FROM study_sessions
		WHERE study_id=$1
		ORDER BY started_at ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := make([]StudySession, 0)
	for rows.Next() {
		var item StudySession
		if err := rows.Scan(
			&item.ID, &item.StudyID, &item.ParticipantID, &item.Status, &item.CurrentStep,
			&item.Responses, &item.DeviceInfo, &item.Feedback,
			&item.StartedAt, &item.EndedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return items, nil
}
