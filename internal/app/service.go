package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"afkar/api/internal/auth"
	"afkar/api/internal/authpw"
	"afkar/api/internal/config"
	"afkar/api/internal/export"
	"afkar/api/internal/media"
	"afkar/api/internal/rbac"
	"afkar/api/internal/realtime"
	"afkar/api/internal/search"
	"afkar/api/internal/session"
	"afkar/api/internal/store"
	"afkar/api/internal/studyrepo"
	"afkar/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

var validBlockTypes = map[string]struct{}{
	"welcome_screen":   {},
	"open_question":    {},
	"opinion_scale":    {},
	"simple_input":     {},
	"multiple_choice":  {},
	"context_screen":   {},
	"yes_no":           {},
	"five_second_test": {},
	"card_sort":        {},
	"tree_test":        {},
	"thank_you":        {},
	"image_upload":     {},
	"file_upload":      {},
}

var validStudyStatus = map[string]struct{}{
	"draft":     {},
	"active":    {},
	"completed": {},
}

type BlockInput struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Settings json.RawMessage `json:"settings"`
}

type dataStore interface {
	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	UpdateProfileRole(context.Context, string, string) (bool, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListStudiesForUser(context.Context, string) ([]store.Study, error)
	ListActiveStudies(context.Context) ([]store.Study, error)
	GetStudy(context.Context, string) (store.Study, error)
	InsertStudy(context.Context, store.Study) error
	UpdateStudy(ctx context.Context, studyID, actorID, title, description, status, updatedBy string) (bool, error)
	DeleteStudy(ctx context.Context, studyID, actorID string) (bool, error)
	StudyAccessRole(ctx context.Context, studyID, userID string) (string, error)

	ListBlocks(context.Context, string) ([]store.Block, error)
	ReplaceBlocks(context.Context, string, []store.Block) error

	ListCollaborators(context.Context, string) ([]store.Collaborator, error)
	UpsertCollaborator(context.Context, store.Collaborator) error
	RemoveCollaborator(ctx context.Context, studyID, userID string) (bool, error)

	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)
	ResolveComment(ctx context.Context, studyID, commentID, actorID, actorName string) (bool, error)

	InsertUploadAsset(context.Context, store.UploadAsset) error
	ListUploadAssets(context.Context, string) ([]store.UploadAsset, error)

	InsertSession(context.Context, store.StudySession) error
	GetSession(context.Context, string) (store.StudySession, error)
	UpdateSessionProgress(ctx context.Context, sessionID, participantID string, currentStep int, responsesJSON string) (bool, error)
	CompleteSession(ctx context.Context, sessionID, participantID, finalResponsesJSON, feedback string) (bool, error)
	ListSessionsByStudy(context.Context, string) ([]store.StudySession, error)

	InsertPaymentRequest(context.Context, store.PaymentRequest) error
	GetPaymentRequest(context.Context, string) (store.PaymentRequest, error)
	ListPaymentRequests(context.Context, string) ([]store.PaymentRequest, error)
	ProcessPaymentRequest(ctx context.Context, requestID, status, processedBy string) (bool, error)
	AddCredits(ctx context.Context, userID string, amount int, planType string, expiresAt *time.Time, transactionID, txnType, description string) error
	GetCredits(context.Context, string) (store.Credit, error)
	ListTransactions(context.Context, string) ([]store.Transaction, error)

	Ping(ctx context.Context) error
}

// tokenStore is the refresh-token backend: the Postgres store by default,
// Redis when configured.
type tokenStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Profile, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type repoService interface {
	EnsureStudyRepo(studyID string, initial studyrepo.Design, author string) error
	CommitDesign(studyID string, design studyrepo.Design, author, message string) (store.CommitInfo, error)
	GetDesignByHash(studyID, hash string) (studyrepo.Design, error)
	History(studyID string, limit int) ([]store.CommitInfo, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexStudy(rec search.StudyRecord)
	IndexComment(rec search.CommentRecord)
	DeleteStudy(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	tokens tokenStore
	repos  repoService
	search searchService
	hub    *realtime.Hub
	export *export.Service
	authpw *authpw.Service
	media  *media.Service
}

func New(cfg config.Config, pg *store.PostgresStore, repos *studyrepo.Service, searchSvc *search.Service, hub *realtime.Hub) *Service {
	s := &Service{
		cfg:    cfg,
		store:  pg,
		tokens: pg,
		repos:  repos,
		search: searchSvc,
		hub:    hub,
	}
	s.export = export.NewService(&exportStore{store: s.store})
	s.authpw = authpw.NewService(pg)
	return s
}

// NewWithSessionStore keeps refresh tokens in Redis instead of Postgres.
func NewWithSessionStore(cfg config.Config, pg *store.PostgresStore, redisStore *session.RedisStore, repos *studyrepo.Service, searchSvc *search.Service, hub *realtime.Hub) *Service {
	s := New(cfg, pg, repos, searchSvc, hub)
	s.tokens = redisStore
	return s
}

// SetMediaService enables presigned uploads when object storage is configured.
func (s *Service) SetMediaService(m *media.Service) {
	s.media = m
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues access and refresh tokens for a verified profile.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	profile, err := s.tokens.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The backend may carry only the user id; the profile row is the source
	// of truth for name and role.
	full, err := s.store.GetProfileByID(ctx, profile.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  profile.ID,
		Name: profile.DisplayName,
		Role: profile.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.tokens.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		UserName:     profile.DisplayName,
		Role:         profile.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates the access token and resolves the actor once.
// Token claims identify the profile; the persisted row decides the role.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.DisplayName,
		Role:      profile.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.tokens.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// studyAccess resolves what the actor may do with a study. Admin roles have
// full access; otherwise access comes from ownership or the collaborator row.
func (s *Service) studyAccess(ctx context.Context, sess Session, studyID string) (string, error) {
	if s.Can(sess.Role, rbac.ActionAdmin) {
		return "owner", nil
	}
	return s.store.StudyAccessRole(ctx, studyID, sess.UserID)
}

func canEdit(accessRole string) bool {
	return accessRole == "owner" || accessRole == "editor"
}

// ListStudies returns what the actor may see: researchers and admins get the
// studies they own or collaborate on, participants get active studies.
func (s *Service) ListStudies(ctx context.Context, sess Session) ([]map[string]any, error) {
	var (
		items []store.Study
		err   error
	)
	if s.Can(sess.Role, rbac.ActionWrite) {
		items, err = s.store.ListStudiesForUser(ctx, sess.UserID)
	} else {
		items, err = s.store.ListActiveStudies(ctx)
	}
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, studyPayload(item))
	}
	return payload, nil
}

func (s *Service) CreateStudy(ctx context.Context, sess Session, title, description string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}

	item := store.Study{
		ID:           util.NewID("study"),
		Title:        title,
		Description:  strings.TrimSpace(description),
		Status:       "draft",
		ResearcherID: sess.UserID,
		UpdatedBy:    sess.UserName,
	}
	if err := s.store.InsertStudy(ctx, item); err != nil {
		return nil, err
	}

	if err := s.repos.EnsureStudyRepo(item.ID, studyrepo.Design{
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
	}, sess.UserName); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexStudy(search.StudyRecord{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Status:      item.Status,
		})
	}

	return studyPayload(item), nil
}

func (s *Service) GetStudy(ctx context.Context, sess Session, studyID string) (map[string]any, error) {
	item, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	// Active studies are visible to any authenticated user; drafts and
	// completed studies only to people with access.
	if item.Status != "active" {
		accessRole, err := s.studyAccess(ctx, sess, studyID)
		if err != nil {
			return nil, err
		}
		if accessRole == "" {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	blocks, err := s.store.ListBlocks(ctx, studyID)
	if err != nil {
		return nil, err
	}

	payload := studyPayload(item)
	payload["blocks"] = blockPayloads(blocks)
	return payload, nil
}

func (s *Service) UpdateStudy(ctx context.Context, sess Session, studyID, title, description, status string) (map[string]any, error) {
	if status != "" {
		if _, ok := validStudyStatus[status]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be draft, active, or completed", nil)
		}
	}

	current, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	// Omitted fields keep their stored value.
	if title == "" {
		title = current.Title
	}
	if description == "" {
		description = current.Description
	}
	if status == "" {
		status = current.Status
	}

	actorID := sess.UserID
	if s.Can(sess.Role, rbac.ActionAdmin) {
		actorID = current.ResearcherID
	}

	updated, err := s.store.UpdateStudy(ctx, studyID, actorID, title, description, status, sess.UserName)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Either the study does not exist or the actor has no edit access.
		if _, err := s.store.GetStudy(ctx, studyID); err != nil {
			return nil, err
		}
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	item, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repos.CommitDesign(studyID, s.designOf(ctx, item), sess.UserName, "Update study details"); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexStudy(search.StudyRecord{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Status:      item.Status,
		})
	}

	return studyPayload(item), nil
}

func (s *Service) DeleteStudy(ctx context.Context, sess Session, studyID string) error {
	actorID := sess.UserID
	if s.Can(sess.Role, rbac.ActionAdmin) {
		item, err := s.store.GetStudy(ctx, studyID)
		if err != nil {
			return err
		}
		actorID = item.ResearcherID
	}

	deleted, err := s.store.DeleteStudy(ctx, studyID, actorID)
	if err != nil {
		return err
	}
	if !deleted {
		if _, err := s.store.GetStudy(ctx, studyID); err != nil {
			return err
		}
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the study owner can delete it", nil)
	}

	if s.search != nil {
		s.search.DeleteStudy(studyID)
	}
	if s.media != nil {
		if assets, err := s.store.ListUploadAssets(ctx, studyID); err == nil {
			for _, a := range assets {
				if err := s.media.RemoveObject(ctx, a.ObjectKey); err != nil {
					log.Printf("remove upload object %s: %v", a.ObjectKey, err)
				}
			}
		}
	}
	return nil
}

func (s *Service) GetBlocks(ctx context.Context, sess Session, studyID string) ([]map[string]any, error) {
	item, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if item.Status != "active" {
		accessRole, err := s.studyAccess(ctx, sess, studyID)
		if err != nil {
			return nil, err
		}
		if accessRole == "" {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	blocks, err := s.store.ListBlocks(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return blockPayloads(blocks), nil
}

// ReplaceStudyBlocks swaps the entire ordered block list and records the new
// design as a revision.
func (s *Service) ReplaceStudyBlocks(ctx context.Context, sess Session, studyID string, inputs []BlockInput) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if !canEdit(accessRole) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	item, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	blocks := make([]store.Block, 0, len(inputs))
	for i, input := range inputs {
		blockType := strings.TrimSpace(input.Type)
		if _, ok := validBlockTypes[blockType]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown block type: "+blockType, nil)
		}
		id := input.ID
		if id == "" {
			id = util.NewID("blk")
		}
		settings := "{}"
		if len(input.Settings) > 0 {
			if !json.Valid(input.Settings) {
				return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "block settings must be a JSON object", nil)
			}
			settings = string(input.Settings)
		}
		blocks = append(blocks, store.Block{
			ID:        id,
			StudyID:   studyID,
			SortOrder: i,
			Type:      blockType,
			Title:     input.Title,
			Settings:  settings,
		})
	}

	if err := s.store.ReplaceBlocks(ctx, studyID, blocks); err != nil {
		return nil, err
	}

	design := studyrepo.Design{
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
		Blocks:      make([]studyrepo.BlockDesign, 0, len(blocks)),
	}
	for _, b := range blocks {
		design.Blocks = append(design.Blocks, studyrepo.BlockDesign{
			ID:       b.ID,
			Type:     b.Type,
			Title:    b.Title,
			Settings: json.RawMessage(b.Settings),
		})
	}
	if _, err := s.repos.CommitDesign(studyID, design, sess.UserName, "Update block list"); err != nil {
		return nil, err
	}

	return blockPayloads(blocks), nil
}

func (s *Service) StudyHistory(ctx context.Context, sess Session, studyID string, limit int) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	commits, err := s.repos.History(studyID, limit)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		payload = append(payload, map[string]any{
			"hash":      c.Hash,
			"message":   strings.TrimSpace(c.Message),
			"author":    c.Author,
			"createdAt": c.CreatedAt,
		})
	}
	return payload, nil
}

func (s *Service) StudyVersion(ctx context.Context, sess Session, studyID, hash string) (map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	design, err := s.repos.GetDesignByHash(studyID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}

	blocks := make([]map[string]any, 0, len(design.Blocks))
	for _, b := range design.Blocks {
		blocks = append(blocks, map[string]any{
			"id":       b.ID,
			"type":     b.Type,
			"title":    b.Title,
			"settings": b.Settings,
		})
	}
	return map[string]any{
		"title":       design.Title,
		"description": design.Description,
		"status":      design.Status,
		"blocks":      blocks,
	}, nil
}

func (s *Service) ListCollaborators(ctx context.Context, sess Session, studyID string) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	items, err := s.store.ListCollaborators(ctx, studyID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, c := range items {
		payload = append(payload, map[string]any{
			"userId":    c.UserID,
			"email":     c.UserEmail,
			"name":      c.UserName,
			"role":      c.Role,
			"addedBy":   c.AddedBy,
			"createdAt": c.CreatedAt,
		})
	}
	return payload, nil
}

func (s *Service) AddCollaborator(ctx context.Context, sess Session, studyID, email, role string) (map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole != "owner" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the study owner can manage collaborators", nil)
	}

	if role != "viewer" && role != "editor" && role != "owner" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "role must be viewer, editor, or owner", nil)
	}

	profile, err := s.store.GetProfileByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}

	if err := s.store.UpsertCollaborator(ctx, store.Collaborator{
		StudyID: studyID,
		UserID:  profile.ID,
		Role:    role,
		AddedBy: sess.UserName,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"userId": profile.ID,
		"email":  profile.Email,
		"name":   profile.DisplayName,
		"role":   role,
	}, nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, sess Session, studyID, userID string) error {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return err
	}
	if accessRole != "owner" {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the study owner can manage collaborators", nil)
	}

	removed, err := s.store.RemoveCollaborator(ctx, studyID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Collaborator not found", nil)
	}
	return nil
}

func (s *Service) ListComments(ctx context.Context, sess Session, studyID string) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	items, err := s.store.ListComments(ctx, studyID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, c := range items {
		payload = append(payload, commentPayload(c))
	}
	return payload, nil
}

func (s *Service) CreateComment(ctx context.Context, sess Session, studyID, blockID, body string) (map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "comment body is required", nil)
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		StudyID:    studyID,
		BlockID:    blockID,
		AuthorID:   sess.UserID,
		AuthorName: sess.UserName,
		Body:       body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			Body:       comment.Body,
			AuthorName: comment.AuthorName,
			StudyID:    comment.StudyID,
		})
	}

	return commentPayload(comment), nil
}

// ResolveComment marks a comment resolved. Access is enforced inside the
// store update; zero rows means no access, no such comment, or already
// resolved.
func (s *Service) ResolveComment(ctx context.Context, sess Session, studyID, commentID string) error {
	resolved, err := s.store.ResolveComment(ctx, studyID, commentID, sess.UserID, sess.UserName)
	if err != nil {
		return err
	}
	if !resolved {
		return domainError(http.StatusBadRequest, "CONFLICT", "Comment cannot be resolved", nil)
	}
	return nil
}

// CreateUploadTicket returns a presigned PUT URL for a participant file and
// records the pending asset.
func (s *Service) CreateUploadTicket(ctx context.Context, sess Session, studyID, blockID, sessionID, filename, contentType string) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Object storage not configured", nil)
	}

	item, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if item.Status != "active" {
		accessRole, err := s.studyAccess(ctx, sess, studyID)
		if err != nil {
			return nil, err
		}
		if accessRole == "" {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	ticket, err := s.media.PresignUpload(ctx, studyID, sessionID, filename)
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertUploadAsset(ctx, store.UploadAsset{
		ID:          util.NewID("upl"),
		StudyID:     studyID,
		BlockID:     blockID,
		ObjectKey:   ticket.ObjectKey,
		ContentType: contentType,
		UploadedBy:  sess.UserID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"objectKey": ticket.ObjectKey,
		"uploadUrl": ticket.UploadURL,
		"expiresAt": ticket.ExpiresAt,
	}, nil
}

// ListStudyUploads returns the study's uploaded assets with short-lived
// download URLs. Only researchers with access to the study can list them.
func (s *Service) ListStudyUploads(ctx context.Context, sess Session, studyID string) ([]map[string]any, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if accessRole == "" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	assets, err := s.store.ListUploadAssets(ctx, studyID)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		item := map[string]any{
			"id":          a.ID,
			"blockId":     a.BlockID,
			"objectKey":   a.ObjectKey,
			"contentType": a.ContentType,
			"size":        a.Size,
			"uploadedBy":  a.UploadedBy,
			"createdAt":   a.CreatedAt,
		}
		if s.media != nil {
			if url, err := s.media.PresignDownload(ctx, a.ObjectKey, path.Base(a.ObjectKey)); err == nil {
				item["downloadUrl"] = url
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// JoinStudyRoom announces a watcher in the study's realtime room.
func (s *Service) JoinStudyRoom(ctx context.Context, sess Session, studyID string) error {
	if _, err := s.store.GetStudy(ctx, studyID); err != nil {
		return err
	}
	return s.hub.Publish(ctx, realtime.Event{
		StudyID: studyID,
		Type:    realtime.EventWatcherJoined,
		UserID:  sess.UserID,
	})
}

// Hub exposes the realtime hub for the SSE endpoint.
func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

func (s *Service) Search(ctx context.Context, sess Session, text, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		Limit:           limit,
		Offset:          offset,
		ParticipantOnly: !s.Can(sess.Role, rbac.ActionWrite),
	}), nil
}

// ExportResults produces a study results download. Only users who can edit
// the study may export its sessions.
func (s *Service) ExportResults(ctx context.Context, sess Session, studyID string, format export.Format, layout export.Layout) (*export.Result, error) {
	accessRole, err := s.studyAccess(ctx, sess, studyID)
	if err != nil {
		return nil, err
	}
	if !canEdit(accessRole) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	return s.export.Export(ctx, export.Request{
		StudyID: studyID,
		Format:  format,
		Layout:  layout,
	})
}

// UpdateUserRole is the admin role-management operation.
func (s *Service) UpdateUserRole(ctx context.Context, userID, role string) error {
	if rbac.Role(role) != rbac.RoleParticipant &&
		rbac.Role(role) != rbac.RoleResearcher &&
		rbac.Role(role) != rbac.RoleAdmin &&
		rbac.Role(role) != rbac.RoleSuperAdmin {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown role: "+role, nil)
	}
	updated, err := s.store.UpdateProfileRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if !updated {
		return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}
	return nil
}

// designOf captures the current persisted design for a revision commit.
func (s *Service) designOf(ctx context.Context, item store.Study) studyrepo.Design {
	design := studyrepo.Design{
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
	}
	blocks, err := s.store.ListBlocks(ctx, item.ID)
	if err != nil {
		return design
	}
	for _, b := range blocks {
		design.Blocks = append(design.Blocks, studyrepo.BlockDesign{
			ID:       b.ID,
			Type:     b.Type,
			Title:    b.Title,
			Settings: json.RawMessage(b.Settings),
		})
	}
	return design
}

func studyPayload(item store.Study) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"title":        item.Title,
		"description":  item.Description,
		"status":       item.Status,
		"researcherId": item.ResearcherID,
		"updatedBy":    item.UpdatedBy,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
}

func blockPayloads(blocks []store.Block) []map[string]any {
	payload := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		payload = append(payload, map[string]any{
			"id":        b.ID,
			"sortOrder": b.SortOrder,
			"type":      b.Type,
			"title":     b.Title,
			"settings":  json.RawMessage(b.Settings),
		})
	}
	return payload
}

func commentPayload(c store.Comment) map[string]any {
	payload := map[string]any{
		"id":         c.ID,
		"studyId":    c.StudyID,
		"blockId":    c.BlockID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"body":       c.Body,
		"resolved":   c.Resolved,
		"createdAt":  c.CreatedAt,
	}
	if c.Resolved {
		payload["resolvedBy"] = c.ResolvedBy
		payload["resolvedAt"] = c.ResolvedAt
	}
	return payload
}

// exportStore adapts the primary store to the export package's view of
// studies, blocks, and sessions.
type exportStore struct {
	store dataStore
}

func (e *exportStore) GetStudyInfo(ctx context.Context, studyID string) (export.StudyInfo, error) {
	item, err := e.store.GetStudy(ctx, studyID)
	if err != nil {
		return export.StudyInfo{}, err
	}
	return export.StudyInfo{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
		UpdatedAt:   item.UpdatedAt,
	}, nil
}

func (e *exportStore) ListBlockInfo(ctx context.Context, studyID string) ([]export.BlockInfo, error) {
	blocks, err := e.store.ListBlocks(ctx, studyID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.BlockInfo, 0, len(blocks))
	for _, b := range blocks {
		infos = append(infos, export.BlockInfo{ID: b.ID, Type: b.Type, Title: b.Title})
	}
	return infos, nil
}

func (e *exportStore) ListSessionInfo(ctx context.Context, studyID string) ([]export.SessionInfo, error) {
	sessions, err := e.store.ListSessionsByStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.SessionInfo, 0, len(sessions))
	for _, ses := range sessions {
		responses := map[string]any{}
		if ses.Responses != "" {
			_ = json.Unmarshal([]byte(ses.Responses), &responses)
		}
		infos = append(infos, export.SessionInfo{
			ID:            ses.ID,
			ParticipantID: ses.ParticipantID,
			Status:        ses.Status,
			CurrentStep:   ses.CurrentStep,
			Responses:     responses,
			Feedback:      ses.Feedback,
			StartedAt:     ses.StartedAt,
			EndedAt:       ses.EndedAt,
		})
	}
	return infos, nil
}
