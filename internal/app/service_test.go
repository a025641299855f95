package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"afkar/api/internal/config"
	"afkar/api/internal/export"
	"afkar/api/internal/realtime"
	"afkar/api/internal/store"
	"afkar/api/internal/studyrepo"
)

type fakeStore struct {
	getProfileByIDFn        func(context.Context, string) (store.Profile, error)
	getProfileByEmailFn     func(context.Context, string) (store.Profile, error)
	updateProfileRoleFn     func(context.Context, string, string) (bool, error)
	listStudiesForUserFn    func(context.Context, string) ([]store.Study, error)
	listActiveStudiesFn     func(context.Context) ([]store.Study, error)
	getStudyFn              func(context.Context, string) (store.Study, error)
	insertStudyFn           func(context.Context, store.Study) error
	updateStudyFn           func(ctx context.Context, studyID, actorID, title, description, status, updatedBy string) (bool, error)
	deleteStudyFn           func(ctx context.Context, studyID, actorID string) (bool, error)
	studyAccessRoleFn       func(ctx context.Context, studyID, userID string) (string, error)
	listUploadAssetsFn      func(ctx context.Context, studyID string) ([]store.UploadAsset, error)
	listBlocksFn            func(context.Context, string) ([]store.Block, error)
	replaceBlocksFn         func(context.Context, string, []store.Block) error
	insertSessionFn         func(context.Context, store.StudySession) error
	getSessionFn            func(context.Context, string) (store.StudySession, error)
	updateProgressFn        func(ctx context.Context, sessionID, participantID string, currentStep int, responsesJSON string) (bool, error)
	completeSessionFn       func(ctx context.Context, sessionID, participantID, finalResponsesJSON, feedback string) (bool, error)
	listSessionsByStudyFn   func(context.Context, string) ([]store.StudySession, error)
	insertPaymentFn         func(context.Context, store.PaymentRequest) error
	getPaymentFn            func(context.Context, string) (store.PaymentRequest, error)
	listPaymentsFn          func(context.Context, string) ([]store.PaymentRequest, error)
	processPaymentFn        func(ctx context.Context, requestID, status, processedBy string) (bool, error)
	addCreditsFn            func(ctx context.Context, userID string, amount int, planType string, expiresAt *time.Time, transactionID, txnType, description string) error
	getCreditsFn            func(context.Context, string) (store.Credit, error)
	insertCommentFn         func(context.Context, store.Comment) error
	resolveCommentFn        func(ctx context.Context, studyID, commentID, actorID, actorName string) (bool, error)
	listCollaboratorsFn     func(context.Context, string) ([]store.Collaborator, error)
	upsertCollaboratorFn    func(context.Context, store.Collaborator) error
	removeCollaboratorFn    func(ctx context.Context, studyID, userID string) (bool, error)
}

func (f *fakeStore) GetProfileByID(ctx context.Context, id string) (store.Profile, error) {
	if f.getProfileByIDFn != nil {
		return f.getProfileByIDFn(ctx, id)
	}
	return store.Profile{ID: id, DisplayName: "Test User", Role: "researcher"}, nil
}
func (f *fakeStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	if f.getProfileByEmailFn != nil {
		return f.getProfileByEmailFn(ctx, email)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateProfileRole(ctx context.Context, userID, role string) (bool, error) {
	if f.updateProfileRoleFn != nil {
		return f.updateProfileRoleFn(ctx, userID, role)
	}
	return true, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.Profile, error) {
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) ListStudiesForUser(ctx context.Context, userID string) ([]store.Study, error) {
	if f.listStudiesForUserFn != nil {
		return f.listStudiesForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListActiveStudies(ctx context.Context) ([]store.Study, error) {
	if f.listActiveStudiesFn != nil {
		return f.listActiveStudiesFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetStudy(ctx context.Context, studyID string) (store.Study, error) {
	if f.getStudyFn != nil {
		return f.getStudyFn(ctx, studyID)
	}
	return store.Study{}, sql.ErrNoRows
}
func (f *fakeStore) InsertStudy(ctx context.Context, item store.Study) error {
	if f.insertStudyFn != nil {
		return f.insertStudyFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateStudy(ctx context.Context, studyID, actorID, title, description, status, updatedBy string) (bool, error) {
	if f.updateStudyFn != nil {
		return f.updateStudyFn(ctx, studyID, actorID, title, description, status, updatedBy)
	}
	return true, nil
}
func (f *fakeStore) DeleteStudy(ctx context.Context, studyID, actorID string) (bool, error) {
	if f.deleteStudyFn != nil {
		return f.deleteStudyFn(ctx, studyID, actorID)
	}
	return true, nil
}
func (f *fakeStore) StudyAccessRole(ctx context.Context, studyID, userID string) (string, error) {
	if f.studyAccessRoleFn != nil {
		return f.studyAccessRoleFn(ctx, studyID, userID)
	}
	return "owner", nil
}
func (f *fakeStore) ListBlocks(ctx context.Context, studyID string) ([]store.Block, error) {
	if f.listBlocksFn != nil {
		return f.listBlocksFn(ctx, studyID)
	}
	return nil, nil
}
func (f *fakeStore) ReplaceBlocks(ctx context.Context, studyID string, blocks []store.Block) error {
	if f.replaceBlocksFn != nil {
		return f.replaceBlocksFn(ctx, studyID, blocks)
	}
	return nil
}
func (f *fakeStore) ListCollaborators(ctx context.Context, studyID string) ([]store.Collaborator, error) {
	if f.listCollaboratorsFn != nil {
		return f.listCollaboratorsFn(ctx, studyID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertCollaborator(ctx context.Context, c store.Collaborator) error {
	if f.upsertCollaboratorFn != nil {
		return f.upsertCollaboratorFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) RemoveCollaborator(ctx context.Context, studyID, userID string) (bool, error) {
	if f.removeCollaboratorFn != nil {
		return f.removeCollaboratorFn(ctx, studyID, userID)
	}
	return true, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) ListComments(context.Context, string) ([]store.Comment, error) {
	return nil, nil
}
func (f *fakeStore) ResolveComment(ctx context.Context, studyID, commentID, actorID, actorName string) (bool, error) {
	if f.resolveCommentFn != nil {
		return f.resolveCommentFn(ctx, studyID, commentID, actorID, actorName)
	}
	return true, nil
}
func (f *fakeStore) InsertUploadAsset(context.Context, store.UploadAsset) error { return nil }
func (f *fakeStore) ListUploadAssets(ctx context.Context, studyID string) ([]store.UploadAsset, error) {
	if f.listUploadAssetsFn != nil {
		return f.listUploadAssetsFn(ctx, studyID)
	}
	return nil, nil
}
func (f *fakeStore) InsertSession(ctx context.Context, item store.StudySession) error {
	if f.insertSessionFn != nil {
		return f.insertSessionFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (store.StudySession, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(ctx, sessionID)
	}
	return store.StudySession{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateSessionProgress(ctx context.Context, sessionID, participantID string, currentStep int, responsesJSON string) (bool, error) {
	if f.updateProgressFn != nil {
		return f.updateProgressFn(ctx, sessionID, participantID, currentStep, responsesJSON)
	}
	return true, nil
}
func (f *fakeStore) CompleteSession(ctx context.Context, sessionID, participantID, finalResponsesJSON, feedback string) (bool, error) {
	if f.completeSessionFn != nil {
		return f.completeSessionFn(ctx, sessionID, participantID, finalResponsesJSON, feedback)
	}
	return true, nil
}
func (f *fakeStore) ListSessionsByStudy(ctx context.Context, studyID string) ([]store.StudySession, error) {
	if f.listSessionsByStudyFn != nil {
		return f.listSessionsByStudyFn(ctx, studyID)
	}
	return nil, nil
}
func (f *fakeStore) InsertPaymentRequest(ctx context.Context, item store.PaymentRequest) error {
	if f.insertPaymentFn != nil {
		return f.insertPaymentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetPaymentRequest(ctx context.Context, requestID string) (store.PaymentRequest, error) {
	if f.getPaymentFn != nil {
		return f.getPaymentFn(ctx, requestID)
	}
	return store.PaymentRequest{}, sql.ErrNoRows
}
func (f *fakeStore) ListPaymentRequests(ctx context.Context, status string) ([]store.PaymentRequest, error) {
	if f.listPaymentsFn != nil {
		return f.listPaymentsFn(ctx, status)
	}
	return nil, nil
}
func (f *fakeStore) ProcessPaymentRequest(ctx context.Context, requestID, status, processedBy string) (bool, error) {
	if f.processPaymentFn != nil {
		return f.processPaymentFn(ctx, requestID, status, processedBy)
	}
	return true, nil
}
func (f *fakeStore) AddCredits(ctx context.Context, userID string, amount int, planType string, expiresAt *time.Time, transactionID, txnType, description string) error {
	if f.addCreditsFn != nil {
		return f.addCreditsFn(ctx, userID, amount, planType, expiresAt, transactionID, txnType, description)
	}
	return nil
}
func (f *fakeStore) GetCredits(ctx context.Context, userID string) (store.Credit, error) {
	if f.getCreditsFn != nil {
		return f.getCreditsFn(ctx, userID)
	}
	return store.Credit{UserID: userID}, nil
}
func (f *fakeStore) ListTransactions(context.Context, string) ([]store.Transaction, error) {
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeRepos struct {
	commitDesignFn func(string, studyrepo.Design, string, string) (store.CommitInfo, error)
	historyFn      func(string, int) ([]store.CommitInfo, error)
}

func (f *fakeRepos) EnsureStudyRepo(string, studyrepo.Design, string) error { return nil }
func (f *fakeRepos) CommitDesign(studyID string, design studyrepo.Design, author, message string) (store.CommitInfo, error) {
	if f.commitDesignFn != nil {
		return f.commitDesignFn(studyID, design, author, message)
	}
	return store.CommitInfo{Hash: "abc1234"}, nil
}
func (f *fakeRepos) GetDesignByHash(string, string) (studyrepo.Design, error) {
	return studyrepo.Design{}, errors.New("not found")
}
func (f *fakeRepos) History(studyID string, limit int) ([]store.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(studyID, limit)
	}
	return nil, nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	s := &Service{
		cfg:    cfg,
		store:  fs,
		tokens: fs,
		repos:  &fakeRepos{},
		hub:    realtime.NewHub(nil),
	}
	s.export = export.NewService(&exportStore{store: fs})
	return s
}

func participantSession(userID string) Session {
	return Session{UserID: userID, UserName: "Pat Participant", Role: "participant"}
}

func researcherSession(userID string) Session {
	return Session{UserID: userID, UserName: "Riley Researcher", Role: "researcher"}
}

func adminSession() Session {
	return Session{UserID: "usr_admin", UserName: "Ada Admin", Role: "admin"}
}

func activeStudy(id string) store.Study {
	return store.Study{ID: id, Title: "Checkout flow", Status: "active", ResearcherID: "usr_owner"}
}

func TestStartSessionCreatesInProgress(t *testing.T) {
	var inserted store.StudySession
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return activeStudy(id), nil
		},
		insertSessionFn: func(_ context.Context, item store.StudySession) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.StartSession(context.Background(), participantSession("usr_p1"), StartSessionInput{
		StudyID: "study_1",
		UserID:  "usr_p1",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if inserted.Status != "in_progress" {
		t.Fatalf("inserted status = %q, want in_progress", inserted.Status)
	}
	if inserted.CurrentStep != 0 {
		t.Fatalf("inserted currentStep = %d, want 0", inserted.CurrentStep)
	}
	if payload["status"] != "in_progress" {
		t.Fatalf("payload status = %v", payload["status"])
	}
	if payload["participantId"] != "usr_p1" {
		t.Fatalf("payload participantId = %v", payload["participantId"])
	}
}

func TestStartSessionRejectsInactiveStudy(t *testing.T) {
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return store.Study{ID: id, Status: "draft"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.StartSession(context.Background(), participantSession("usr_p1"), StartSessionInput{
		StudyID: "study_1",
		UserID:  "usr_p1",
	})
	assertDomainStatus(t, err, 400)
}

func TestStartSessionValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.StartSession(context.Background(), participantSession("usr_p1"), StartSessionInput{
		StudyID: "study_1",
	})
	assertDomainStatus(t, err, 400)

	_, err = svc.StartSession(context.Background(), participantSession("usr_p1"), StartSessionInput{
		StudyID: "study_1",
		UserID:  "usr_someone_else",
	})
	assertDomainStatus(t, err, 403)
}

func TestRecordProgressRejectsNonOwner(t *testing.T) {
	fs := &fakeStore{
		updateProgressFn: func(_ context.Context, _, _ string, _ int, _ string) (bool, error) {
			return false, nil
		},
		getSessionFn: func(_ context.Context, id string) (store.StudySession, error) {
			return store.StudySession{ID: id, ParticipantID: "usr_other", Status: "in_progress"}, nil
		},
	}
	svc := newTestService(fs)

	step := 2
	_, err := svc.RecordProgress(context.Background(), participantSession("usr_p1"), "sess_1", ProgressInput{
		CurrentStep: &step,
	})
	assertDomainStatus(t, err, 403)
}

func TestRecordProgressRoundTripsResponses(t *testing.T) {
	var savedJSON string
	fs := &fakeStore{
		updateProgressFn: func(_ context.Context, _, _ string, _ int, responsesJSON string) (bool, error) {
			savedJSON = responsesJSON
			return true, nil
		},
		getSessionFn: func(_ context.Context, id string) (store.StudySession, error) {
			return store.StudySession{
				ID:            id,
				StudyID:       "study_1",
				ParticipantID: "usr_p1",
				Status:        "in_progress",
				CurrentStep:   2,
				Responses:     savedJSON,
			}, nil
		},
	}
	svc := newTestService(fs)

	step := 2
	payload, err := svc.RecordProgress(context.Background(), participantSession("usr_p1"), "sess_1", ProgressInput{
		CurrentStep: &step,
		Responses: map[string]any{
			"blk_rating": float64(4),
			"blk_open":   "liked the sorting step",
			"blk_multi":  []any{"compact", "dark"},
		},
	})
	if err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	var got map[string]any
	raw, _ := json.Marshal(payload["responses"])
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal responses: %v", err)
	}
	if got["blk_rating"] != float64(4) {
		t.Fatalf("blk_rating = %v", got["blk_rating"])
	}
	if got["blk_open"] != "liked the sorting step" {
		t.Fatalf("blk_open = %v", got["blk_open"])
	}
}

func TestCompleteSessionAcceptsFinalResponsesKey(t *testing.T) {
	var stored string
	fs := &fakeStore{
		completeSessionFn: func(_ context.Context, _, _, finalResponsesJSON, _ string) (bool, error) {
			stored = finalResponsesJSON
			return true, nil
		},
		getSessionFn: func(_ context.Context, id string) (store.StudySession, error) {
			return store.StudySession{ID: id, StudyID: "study_1", ParticipantID: "usr_p1", Status: "completed"}, nil
		},
	}
	svc := newTestService(fs)

	input := CompleteInput{FinalResponses: map[string]any{"overall": "done"}}
	if _, err := svc.CompleteSession(context.Background(), participantSession("usr_p1"), "sess_1", input); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(stored), &got); err != nil {
		t.Fatalf("unmarshal stored responses: %v", err)
	}
	if got["overall"] != "done" {
		t.Fatalf("stored responses = %v, want overall=done", got)
	}

	stored = ""
	if _, err := svc.CompleteSession(context.Background(), participantSession("usr_p1"), "sess_1", CompleteInput{Responses: map[string]any{"overall": "done"}}); err != nil {
		t.Fatalf("complete with alias: %v", err)
	}
	if !strings.Contains(stored, `"overall":"done"`) {
		t.Fatalf("alias responses not stored: %s", stored)
	}
}

func TestCompleteSessionTwiceIsRejected(t *testing.T) {
	completedOnce := false
	fs := &fakeStore{
		completeSessionFn: func(_ context.Context, _, _, _, _ string) (bool, error) {
			if completedOnce {
				return false, nil
			}
			completedOnce = true
			return true, nil
		},
		getSessionFn: func(_ context.Context, id string) (store.StudySession, error) {
			status := "in_progress"
			if completedOnce {
				status = "completed"
			}
			return store.StudySession{ID: id, StudyID: "study_1", ParticipantID: "usr_p1", Status: status}, nil
		},
	}
	svc := newTestService(fs)

	sess := participantSession("usr_p1")
	if _, err := svc.CompleteSession(context.Background(), sess, "sess_1", CompleteInput{}); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	_, err := svc.CompleteSession(context.Background(), sess, "sess_1", CompleteInput{})
	assertDomainStatus(t, err, 400)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "Session already completed" {
		t.Fatalf("err = %v, want session already completed", err)
	}
}

func TestProcessPaymentRequestNonPending(t *testing.T) {
	fs := &fakeStore{
		processPaymentFn: func(_ context.Context, _, _, _ string) (bool, error) {
			return false, nil
		},
		getPaymentFn: func(_ context.Context, id string) (store.PaymentRequest, error) {
			return store.PaymentRequest{ID: id, Status: "verified"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ProcessPaymentRequest(context.Background(), adminSession(), "pay_1", "verify")
	assertDomainStatus(t, err, 400)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "Only pending payment requests can be processed" {
		t.Fatalf("err = %v, want invalid state message", err)
	}
}

func TestProcessPaymentVerifyGrantsCredits(t *testing.T) {
	var granted struct {
		userID  string
		amount  int
		txnType string
	}
	fs := &fakeStore{
		processPaymentFn: func(_ context.Context, _, status, _ string) (bool, error) {
			if status != "verified" {
				t.Fatalf("status = %q, want verified", status)
			}
			return true, nil
		},
		getPaymentFn: func(_ context.Context, id string) (store.PaymentRequest, error) {
			return store.PaymentRequest{ID: id, UserID: "usr_r1", Amount: 500, PlanType: "pro", Status: "verified"}, nil
		},
		addCreditsFn: func(_ context.Context, userID string, amount int, _ string, _ *time.Time, _, txnType, _ string) error {
			granted.userID = userID
			granted.amount = amount
			granted.txnType = txnType
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ProcessPaymentRequest(context.Background(), adminSession(), "pay_1", "verify"); err != nil {
		t.Fatalf("ProcessPaymentRequest: %v", err)
	}
	if granted.userID != "usr_r1" || granted.amount != 500 {
		t.Fatalf("credits granted to %q amount %d", granted.userID, granted.amount)
	}
	if granted.txnType != "payment_verified" {
		t.Fatalf("transaction type = %q, want payment_verified", granted.txnType)
	}
}

func TestProcessPaymentRejectSkipsCredits(t *testing.T) {
	fs := &fakeStore{
		getPaymentFn: func(_ context.Context, id string) (store.PaymentRequest, error) {
			return store.PaymentRequest{ID: id, UserID: "usr_r1", Amount: 500, Status: "rejected"}, nil
		},
		addCreditsFn: func(context.Context, string, int, string, *time.Time, string, string, string) error {
			t.Fatal("credits granted on rejection")
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ProcessPaymentRequest(context.Background(), adminSession(), "pay_1", "reject"); err != nil {
		t.Fatalf("ProcessPaymentRequest: %v", err)
	}
}

func TestGrantCreditsUnknownUser(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.GrantCredits(context.Background(), AddCreditsInput{Email: "nobody@example.com", Credits: 100})
	assertDomainStatus(t, err, 404)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "User not found" {
		t.Fatalf("err = %v, want user not found", err)
	}
}

func TestGrantCreditsUsesCreditsKey(t *testing.T) {
	var granted struct {
		amount  int
		txnType string
	}
	fs := &fakeStore{
		getProfileByEmailFn: func(_ context.Context, email string) (store.Profile, error) {
			return store.Profile{ID: "usr_r1", Email: email}, nil
		},
		addCreditsFn: func(_ context.Context, _ string, amount int, _ string, _ *time.Time, _, txnType, _ string) error {
			granted.amount = amount
			granted.txnType = txnType
			return nil
		},
		getCreditsFn: func(_ context.Context, userID string) (store.Credit, error) {
			return store.Credit{UserID: userID, Balance: 250, PlanType: "pro"}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GrantCredits(context.Background(), AddCreditsInput{Email: "r1@example.com", Credits: 250, PlanType: "pro"}); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}
	if granted.amount != 250 {
		t.Fatalf("granted amount = %d, want 250", granted.amount)
	}
	if granted.txnType != "admin_grant" {
		t.Fatalf("transaction type = %q, want admin_grant", granted.txnType)
	}

	_, err := svc.GrantCredits(context.Background(), AddCreditsInput{Email: "r1@example.com"})
	assertDomainStatus(t, err, 400)
}

func TestProcessPaymentRejectsActionAliases(t *testing.T) {
	svc := newTestService(&fakeStore{})

	for _, action := range []string{"verified", "rejected", "approve", ""} {
		_, err := svc.ProcessPaymentRequest(context.Background(), adminSession(), "pay_1", action)
		assertDomainStatus(t, err, 400)
	}
}

func TestUpdateStudyAdminActsAsOwner(t *testing.T) {
	var actor string
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return activeStudy(id), nil
		},
		updateStudyFn: func(_ context.Context, _, actorID, _, _, _, _ string) (bool, error) {
			actor = actorID
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateStudy(context.Background(), adminSession(), "study_1", "New title", "", ""); err != nil {
		t.Fatalf("UpdateStudy: %v", err)
	}
	if actor != "usr_owner" {
		t.Fatalf("actor = %q, want study owner", actor)
	}
}

func TestUpdateStudyPartialKeepsOtherFields(t *testing.T) {
	var gotTitle, gotDescription, gotStatus string
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return store.Study{ID: id, Title: "Checkout flow", Description: "First-run funnel", Status: "draft", ResearcherID: "usr_owner"}, nil
		},
		updateStudyFn: func(_ context.Context, _, _, title, description, status, _ string) (bool, error) {
			gotTitle, gotDescription, gotStatus = title, description, status
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateStudy(context.Background(), researcherSession("usr_owner"), "study_1", "", "", "active"); err != nil {
		t.Fatalf("UpdateStudy: %v", err)
	}
	if gotTitle != "Checkout flow" || gotDescription != "First-run funnel" {
		t.Fatalf("title/description = %q/%q, want stored values kept", gotTitle, gotDescription)
	}
	if gotStatus != "active" {
		t.Fatalf("status = %q, want active", gotStatus)
	}
}

func TestReplaceBlocksValidatesType(t *testing.T) {
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return activeStudy(id), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ReplaceStudyBlocks(context.Background(), researcherSession("usr_owner"), "study_1", []BlockInput{
		{Type: "quantum_screen", Title: "Nope"},
	})
	assertDomainStatus(t, err, 400)
}

func TestReplaceBlocksAssignsOrderAndIDs(t *testing.T) {
	var replaced []store.Block
	fs := &fakeStore{
		getStudyFn: func(_ context.Context, id string) (store.Study, error) {
			return activeStudy(id), nil
		},
		replaceBlocksFn: func(_ context.Context, _ string, blocks []store.Block) error {
			replaced = blocks
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ReplaceStudyBlocks(context.Background(), researcherSession("usr_owner"), "study_1", []BlockInput{
		{Type: "welcome_screen", Title: "Welcome"},
		{ID: "blk_keep", Type: "open_question", Title: "Thoughts?", Settings: json.RawMessage(`{"required":true}`)},
	})
	if err != nil {
		t.Fatalf("ReplaceStudyBlocks: %v", err)
	}

	if len(replaced) != 2 {
		t.Fatalf("replaced %d blocks", len(replaced))
	}
	if replaced[0].SortOrder != 0 || replaced[1].SortOrder != 1 {
		t.Fatalf("sort orders = %d, %d", replaced[0].SortOrder, replaced[1].SortOrder)
	}
	if replaced[0].ID == "" {
		t.Fatal("generated block id is empty")
	}
	if replaced[1].ID != "blk_keep" {
		t.Fatalf("kept block id = %q", replaced[1].ID)
	}
	if replaced[1].Settings != `{"required":true}` {
		t.Fatalf("settings = %q", replaced[1].Settings)
	}
}

func TestListStudiesByRole(t *testing.T) {
	fs := &fakeStore{
		listStudiesForUserFn: func(_ context.Context, userID string) ([]store.Study, error) {
			return []store.Study{{ID: "study_mine", ResearcherID: userID, Status: "draft"}}, nil
		},
		listActiveStudiesFn: func(context.Context) ([]store.Study, error) {
			return []store.Study{{ID: "study_active", Status: "active"}}, nil
		},
	}
	svc := newTestService(fs)

	mine, err := svc.ListStudies(context.Background(), researcherSession("usr_r1"))
	if err != nil {
		t.Fatalf("ListStudies researcher: %v", err)
	}
	if len(mine) != 1 || mine[0]["id"] != "study_mine" {
		t.Fatalf("researcher list = %v", mine)
	}

	active, err := svc.ListStudies(context.Background(), participantSession("usr_p1"))
	if err != nil {
		t.Fatalf("ListStudies participant: %v", err)
	}
	if len(active) != 1 || active[0]["id"] != "study_active" {
		t.Fatalf("participant list = %v", active)
	}
}

func TestSessionResultsVisibility(t *testing.T) {
	fs := &fakeStore{
		getSessionFn: func(_ context.Context, id string) (store.StudySession, error) {
			return store.StudySession{ID: id, StudyID: "study_1", ParticipantID: "usr_p1", Status: "completed"}, nil
		},
		studyAccessRoleFn: func(_ context.Context, _, userID string) (string, error) {
			if userID == "usr_owner" {
				return "owner", nil
			}
			return "", nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GetSessionResults(context.Background(), participantSession("usr_p1"), "sess_1"); err != nil {
		t.Fatalf("own session: %v", err)
	}
	if _, err := svc.GetSessionResults(context.Background(), researcherSession("usr_owner"), "sess_1"); err != nil {
		t.Fatalf("owner access: %v", err)
	}

	_, err := svc.GetSessionResults(context.Background(), participantSession("usr_stranger"), "sess_1")
	assertDomainStatus(t, err, 403)
}

func TestResolveCommentConflict(t *testing.T) {
	fs := &fakeStore{
		resolveCommentFn: func(context.Context, string, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	err := svc.ResolveComment(context.Background(), researcherSession("usr_owner"), "study_1", "cmt_1")
	assertDomainStatus(t, err, 400)
}

func TestListStudyUploadsRequiresAccess(t *testing.T) {
	fs := &fakeStore{
		studyAccessRoleFn: func(_ context.Context, _, userID string) (string, error) {
			if userID == "usr_owner" {
				return "owner", nil
			}
			return "", nil
		},
		listUploadAssetsFn: func(_ context.Context, studyID string) ([]store.UploadAsset, error) {
			return []store.UploadAsset{{ID: "upl_1", StudyID: studyID, BlockID: "blk_1", ObjectKey: "study_1/sess_1/shot.png"}}, nil
		},
	}
	svc := newTestService(fs)

	assets, err := svc.ListStudyUploads(context.Background(), researcherSession("usr_owner"), "study_1")
	if err != nil {
		t.Fatalf("ListStudyUploads: %v", err)
	}
	if len(assets) != 1 || assets[0]["id"] != "upl_1" {
		t.Fatalf("assets = %v", assets)
	}
	if _, ok := assets[0]["downloadUrl"]; ok {
		t.Fatal("downloadUrl present without object storage configured")
	}

	_, err = svc.ListStudyUploads(context.Background(), participantSession("usr_p1"), "study_1")
	assertDomainStatus(t, err, 403)
}

func assertDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("err = %v, want DomainError", err)
	}
	if domainErr.Status != status {
		t.Fatalf("status = %d, want %d (message %q)", domainErr.Status, status, domainErr.Message)
	}
}
