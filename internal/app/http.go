package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"afkar/api/internal/auth"
	"afkar/api/internal/authpw"
	"afkar/api/internal/email"
	"afkar/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	mailer     *email.Service
	appBaseURL string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// SetMailer wires SMTP delivery for verification and reset links. Without a
// configured mailer the tokens are returned in the API response so the flow
// still works in development.
func (s *HTTPServer) SetMailer(mailer *email.Service, appBaseURL string) {
	s.mailer = mailer
	s.appBaseURL = appBaseURL
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeSuccess(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"success": false,
				"error":   "database unavailable",
			})
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	parts = parts[1:]

	if len(parts) >= 1 && parts[0] == "auth" {
		s.handleAuth(w, r, parts[1:])
		return
	}

	if len(parts) >= 1 && parts[0] == "session" {
		s.handleSession(w, r, parts[1:])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[0] {
	case "studies":
		s.handleStudies(w, r, session, parts[1:])
	case "study-sessions":
		s.handleStudySessions(w, r, session, parts[1:])
	case "search":
		if len(parts) == 1 && r.Method == http.MethodGet {
			s.handleSearch(w, r, session)
			return
		}
		writeError(w, http.StatusNotFound, "Not found")
	case "export":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleExport(w, r, session, parts[1])
			return
		}
		writeError(w, http.StatusNotFound, "Not found")
	case "payments":
		s.handlePayments(w, r, session, parts[1:])
	case "admin":
		s.handleAdmin(w, r, session, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Auth routes carry no session.

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	authSvc := s.service.AuthPasswordService()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch strings.Join(parts, "/") {
	case "signup":
		var body struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
			Email:       body.Email,
			Password:    body.Password,
			DisplayName: body.DisplayName,
			Role:        body.Role,
		})
		if err != nil {
			if err.Error() == "email already registered" {
				writeError(w, http.StatusConflict, "Email already registered")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data := map[string]any{
			"userId":              resp.UserID,
			"requiresEmailVerify": resp.RequiresEmailVerify,
		}
		if resp.RequiresEmailVerify {
			if s.mailer.IsConfigured() {
				verifyURL := s.appBaseURL + "/verify-email?token=" + resp.VerificationToken
				if err := s.mailer.SendVerificationEmail(body.Email, body.DisplayName, verifyURL); err != nil {
					log.Printf("send verification email: %v", err)
				}
			} else {
				data["verificationToken"] = resp.VerificationToken
			}
		}
		writeSuccess(w, http.StatusCreated, data)

	case "signin":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{Email: body.Email, Password: body.Password})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		if resp.RequiresVerify {
			writeError(w, http.StatusForbidden, "Email not verified")
			return
		}
		session, err := s.service.CreateSession(r.Context(), resp.Profile.ID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, sessionBody(session))

	case "verify-email":
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeMessage(w, http.StatusOK, "Email verified")

	case "reset-password/request":
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Always report success so the endpoint cannot confirm whether an
		// email is registered.
		resetToken, err := authSvc.RequestPasswordReset(r.Context(), body.Email)
		if err == nil && resetToken != "" {
			if s.mailer.IsConfigured() {
				resetURL := s.appBaseURL + "/reset-password?token=" + resetToken
				if err := s.mailer.SendPasswordResetEmail(body.Email, body.Email, resetURL); err != nil {
					log.Printf("send reset email: %v", err)
				}
			} else {
				writeJSON(w, http.StatusOK, map[string]any{
					"success": true,
					"message": "If the email exists, a reset link has been sent",
					"data":    map[string]any{"resetToken": resetToken},
				})
				return
			}
		}
		writeMessage(w, http.StatusOK, "If the email exists, a reset link has been sent")

	case "reset-password":
		var body struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
			Token:       body.Token,
			NewPassword: body.NewPassword,
		}); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeMessage(w, http.StatusOK, "Password updated")

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handleSession covers GET /api/session plus refresh and logout.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.handleWhoAmI(w, r)

	case len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost:
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		writeSuccess(w, http.StatusOK, sessionBody(session))

	case len(parts) == 1 && parts[0] == "logout" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeMessage(w, http.StatusOK, "Logged out")

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	resp, err := s.service.Search(r.Context(), session, q.Get("q"), q.Get("type"), limit, offset)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, resp)
}

// Self-service billing routes.
func (s *HTTPServer) handlePayments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "requests" && r.Method == http.MethodPost:
		var body PaymentRequestInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.CreatePaymentRequest(r.Context(), session, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, payload)

	case len(parts) == 1 && parts[0] == "credits" && r.Method == http.MethodGet:
		payload, err := s.service.GetCredits(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	case len(parts) == 1 && parts[0] == "transactions" && r.Method == http.MethodGet:
		payload, err := s.service.ListTransactions(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Admin routes: payment processing, credit grants, role changes.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionAdmin) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	switch {
	case len(parts) == 2 && parts[0] == "payments" && parts[1] == "requests" && r.Method == http.MethodGet:
		payload, err := s.service.ListPaymentRequests(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	// PUT /api/admin/payments/requests/{id}/{action}
	case len(parts) == 4 && parts[0] == "payments" && parts[1] == "requests" && r.Method == http.MethodPut:
		payload, err := s.service.ProcessPaymentRequest(r.Context(), session, parts[2], parts[3])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	case len(parts) == 3 && parts[0] == "payments" && parts[1] == "credits" && parts[2] == "add" && r.Method == http.MethodPost:
		var body AddCreditsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.GrantCredits(r.Context(), body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload)

	case len(parts) == 3 && parts[0] == "users" && parts[2] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.service.UpdateUserRole(r.Context(), parts[1], body.Role); err != nil {
			writeMappedError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "Role updated")

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		// EventSource cannot set headers, so the events endpoint accepts
		// the token as a query parameter.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the middleware wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionBody(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt,
	}
}

// Every response body is the same envelope: success plus exactly one of
// data, message, or error.

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": true, "message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, message := mapError(err)
	writeError(w, status, message)
}

func mapError(err error) (int, string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "Unauthorized"
	}
	return http.StatusInternalServerError, "Server error"
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
