package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Profiles ──

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM profiles
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(
		&p.ID, &p.DisplayName, &p.Email, &p.PasswordHash, &p.Role,
		&p.IsEmailVerified, &p.VerificationToken, &p.VerificationExpiresAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, userID).Scan(
		&p.ID, &p.DisplayName, &p.Email, &p.PasswordHash, &p.Role,
		&p.IsEmailVerified, &p.VerificationToken, &p.VerificationExpiresAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	role := p.Role
	if role == "" {
		role = "participant"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, NULLIF($7, ''))
	`, p.ID, p.DisplayName, p.Email, p.PasswordHash, role, p.IsEmailVerified, p.VerificationToken)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
		  AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateProfileRole changes a user's platform role. Returns false when the
// profile does not exist.
func (s *PostgresStore) UpdateProfileRole(ctx context.Context, userID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET role=$2, updated_at=NOW() WHERE id=$1
	`, userID, role)
	if err != nil {
		return false, fmt.Errorf("update profile role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update profile role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ── Token plumbing ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Profile, error) {
	const query = `
		SELECT p.id, p.display_name, p.email, p.role
		FROM refresh_sessions rs
		JOIN profiles p ON p.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var p Profile
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&p.ID, &p.DisplayName, &p.Email, &p.Role)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Studies ──

// ListStudiesForUser returns studies the user owns or collaborates on.
func (s *PostgresStore) ListStudiesForUser(ctx context.Context, userID string) ([]Study, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT st.id, st.title, st.description, st.status, st.researcher_id, st.updated_by_name, st.created_at, st.updated_at
		FROM studies st
		LEFT JOIN study_collaborators sc ON sc.study_id = st.id
		WHERE st.researcher_id = $1 OR sc.user_id = $1
		ORDER BY st.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()
	return scanStudies(rows)
}

func (s *PostgresStore) ListActiveStudies(ctx context.Context) ([]Study, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, researcher_id, updated_by_name, created_at, updated_at
		FROM studies
		WHERE status = 'active'
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active studies: %w", err)
	}
	defer rows.Close()
	return scanStudies(rows)
}

func scanStudies(rows *sql.Rows) ([]Study, error) {
	items := make([]Study, 0)
	for rows.Next() {
		var item Study
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.ResearcherID, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate studies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStudy(ctx context.Context, studyID string) (Study, error) {
	var item Study
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, researcher_id, updated_by_name, created_at, updated_at
		FROM studies
		WHERE id=$1
	`, studyID).Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.ResearcherID, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Study{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertStudy(ctx context.Context, item Study) error {
	status := item.Status
	if status == "" {
		status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO studies (id, title, description, status, researcher_id, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Title, item.Description, status, item.ResearcherID, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert study: %w", err)
	}
	return nil
}

// UpdateStudy mutates a study only when the actor has editor access. The
// access filter lives in the UPDATE itself so a stale ownership check cannot
// produce an unauthorized write. Empty title/description/status leave the
// stored value untouched, so callers can send partial updates.
func (s *PostgresStore) UpdateStudy(ctx context.Context, studyID, actorID, title, description, status, updatedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE studies st
		SET title=COALESCE(NULLIF($3, ''), st.title),
		    description=COALESCE(NULLIF($4, ''), st.description),
		    status=COALESCE(NULLIF($5, ''), st.status),
		    updated_by_name=$6, updated_at=NOW()
		WHERE st.id=$1
		  AND (st.researcher_id=$2
			OR EXISTS (SELECT 1 FROM study_collaborators sc
				WHERE sc.study_id=st.id AND sc.user_id=$2 AND sc.role IN ('editor', 'owner')))
	`, studyID, actorID, title, description, status, updatedBy)
	if err != nil {
		return false, fmt.Errorf("update study: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update study rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteStudy(ctx context.Context, studyID, actorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM studies WHERE id=$1 AND researcher_id=$2
	`, studyID, actorID)
	if err != nil {
		return false, fmt.Errorf("delete study: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete study rows: %w", err)
	}
	return affected > 0, nil
}

// StudyAccessRole resolves the actor's effective role on a study: "owner" for
// the researcher, the collaborator role otherwise, "" for no access.
func (s *PostgresStore) StudyAccessRole(ctx context.Context, studyID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT CASE WHEN st.researcher_id=$2 THEN 'owner' ELSE COALESCE(sc.role, '') END
		FROM studies st
		LEFT JOIN study_collaborators sc ON sc.study_id = st.id AND sc.user_id = $2
		WHERE st.id=$1
	`, studyID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("study access role: %w", err)
	}
	return role, nil
}

// ── Blocks ──

func (s *PostgresStore) ListBlocks(ctx context.Context, studyID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_id, sort_order, type, title, COALESCE(settings_json::text, '{}')
		FROM study_blocks
		WHERE study_id=$1
		ORDER BY sort_order ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]Block, 0)
	for rows.Next() {
		var item Block
		if err := rows.Scan(&item.ID, &item.StudyID, &item.SortOrder, &item.Type, &item.Title, &item.Settings); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

// ReplaceBlocks swaps a study's block sequence atomically.
func (s *PostgresStore) ReplaceBlocks(ctx context.Context, studyID string, blocks []Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace blocks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM study_blocks WHERE study_id=$1`, studyID); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}
	for i, block := range blocks {
		settings := block.Settings
		if settings == "" {
			settings = "{}"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO study_blocks (id, study_id, sort_order, type, title, settings_json)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		`, block.ID, studyID, i, block.Type, block.Title, settings); err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace blocks: %w", err)
	}
	return nil
}

// ── Collaborators ──

func (s *PostgresStore) ListCollaborators(ctx context.Context, studyID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.study_id, sc.user_id, sc.role, sc.added_by_name, sc.created_at, p.email, p.display_name
		FROM study_collaborators sc
		JOIN profiles p ON p.id = sc.user_id
		WHERE sc.study_id=$1
		ORDER BY sc.created_at ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.StudyID, &item.UserID, &item.Role, &item.AddedBy, &item.CreatedAt, &item.UserEmail, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertCollaborator(ctx context.Context, c Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_collaborators (study_id, user_id, role, added_by_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (study_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, c.StudyID, c.UserID, c.Role, c.AddedBy)
	if err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, studyID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM study_collaborators WHERE study_id=$1 AND user_id=$2
	`, studyID, userID)
	if err != nil {
		return false, fmt.Errorf("remove collaborator: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove collaborator rows: %w", err)
	}
	return affected > 0, nil
}

// ── Comments ──

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaboration_comments (id, study_id, block_id, author_id, author_name, body)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, c.ID, c.StudyID, c.BlockID, c.AuthorID, c.AuthorName, c.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, studyID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_id, COALESCE(block_id, ''), author_id, author_name, body, resolved, COALESCE(resolved_by_name, ''), resolved_at, created_at
		FROM collaboration_comments
		WHERE study_id=$1
		ORDER BY created_at ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.StudyID, &item.BlockID, &item.AuthorID, &item.AuthorName, &item.Body, &item.Resolved, &item.ResolvedBy, &item.ResolvedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ResolveComment flips the resolved flag only when the actor owns or
// collaborates on the study; the access check is part of the UPDATE.
func (s *PostgresStore) ResolveComment(ctx context.Context, studyID, commentID, actorID, actorName string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collaboration_comments cc
		SET resolved=TRUE, resolved_by_name=$4, resolved_at=NOW()
		WHERE cc.id=$2 AND cc.study_id=$1 AND cc.resolved=FALSE
		  AND EXISTS (
			SELECT 1 FROM studies st
			LEFT JOIN study_collaborators sc ON sc.study_id = st.id AND sc.user_id = $3
			WHERE st.id=$1 AND (st.researcher_id=$3 OR sc.user_id IS NOT NULL)
		  )
	`, studyID, commentID, actorID, actorName)
	if err != nil {
		return false, fmt.Errorf("resolve comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve comment rows: %w", err)
	}
	return affected > 0, nil
}

// ── Upload assets ──

func (s *PostgresStore) InsertUploadAsset(ctx context.Context, a UploadAsset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_assets (id, study_id, block_id, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, a.ID, a.StudyID, a.BlockID, a.ObjectKey, a.ContentType, a.Size, a.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert upload asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUploadAssets(ctx context.Context, studyID string) ([]UploadAsset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_id, COALESCE(block_id, ''), object_key, content_type, size_bytes, uploaded_by, created_at
		FROM upload_assets
		WHERE study_id=$1
		ORDER BY created_at ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list upload assets: %w", err)
	}
	defer rows.Close()

	items := make([]UploadAsset, 0)
	for rows.Next() {
		var item UploadAsset
		if err := rows.Scan(&item.ID, &item.StudyID, &item.BlockID, &item.ObjectKey, &item.ContentType, &item.Size, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload asset: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload assets: %w", err)
	}
	return items, nil
}
