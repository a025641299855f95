package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"afkar/api/internal/store"
	"afkar/api/internal/util"
)

type PaymentRequestInput struct {
	PlanType string `json:"planType"`
	Amount   int    `json:"amount"`
}

type AddCreditsInput struct {
	Email       string `json:"email"`
	Credits     int    `json:"credits"`
	PlanType    string `json:"planType"`
	ExpiresAt   string `json:"expiresAt"`
	Description string `json:"description"`
}

// CreatePaymentRequest records a manual payment for admin review.
func (s *Service) CreatePaymentRequest(ctx context.Context, sess Session, input PaymentRequestInput) (map[string]any, error) {
	if input.Amount <= 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "amount must be positive", nil)
	}
	if strings.TrimSpace(input.PlanType) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "planType is required", nil)
	}

	item := store.PaymentRequest{
		ID:       util.NewID("pay"),
		UserID:   sess.UserID,
		PlanType: input.PlanType,
		Amount:   input.Amount,
		Status:   "pending",
	}
	if err := s.store.InsertPaymentRequest(ctx, item); err != nil {
		return nil, err
	}
	return paymentPayload(item), nil
}

// ListPaymentRequests is admin-only; status filters when non-empty.
func (s *Service) ListPaymentRequests(ctx context.Context, status string) ([]map[string]any, error) {
	items, err := s.store.ListPaymentRequests(ctx, status)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, paymentPayload(item))
	}
	return payload, nil
}

// ProcessPaymentRequest verifies or rejects a pending payment. Verifying
// grants the plan's credits in the same operation.
func (s *Service) ProcessPaymentRequest(ctx context.Context, sess Session, requestID, action string) (map[string]any, error) {
	var status string
	switch action {
	case "verify":
		status = "verified"
	case "reject":
		status = "rejected"
	default:
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "action must be verify or reject", nil)
	}

	processed, err := s.store.ProcessPaymentRequest(ctx, requestID, status, sess.UserName)
	if err != nil {
		return nil, err
	}
	if !processed {
		if _, err := s.store.GetPaymentRequest(ctx, requestID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Payment request not found", nil)
			}
			return nil, err
		}
		return nil, domainError(http.StatusBadRequest, "INVALID_STATE", "Only pending payment requests can be processed", nil)
	}

	item, err := s.store.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if status == "verified" {
		if err := s.store.AddCredits(ctx, item.UserID, item.Amount, item.PlanType, nil,
			util.NewID("txn"), "payment_verified", "Payment verified: "+item.PlanType); err != nil {
			return nil, err
		}
	}

	return paymentPayload(item), nil
}

// GrantCredits is the admin manual credit grant, addressed by user email.
func (s *Service) GrantCredits(ctx context.Context, input AddCreditsInput) (map[string]any, error) {
	if input.Credits <= 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "credits must be positive", nil)
	}

	profile, err := s.store.GetProfileByEmail(ctx, strings.TrimSpace(input.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}

	var expiresAt *time.Time
	if input.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, input.ExpiresAt)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "expiresAt must be RFC3339", nil)
		}
		expiresAt = &parsed
	}

	description := input.Description
	if description == "" {
		description = "Manual credit grant"
	}

	if err := s.store.AddCredits(ctx, profile.ID, input.Credits, input.PlanType, expiresAt,
		util.NewID("txn"), "admin_grant", description); err != nil {
		return nil, err
	}

	credit, err := s.store.GetCredits(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return creditPayload(credit), nil
}

// GetCredits returns the actor's own balance.
func (s *Service) GetCredits(ctx context.Context, sess Session) (map[string]any, error) {
	credit, err := s.store.GetCredits(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return creditPayload(store.Credit{UserID: sess.UserID}), nil
		}
		return nil, err
	}
	return creditPayload(credit), nil
}

func (s *Service) ListTransactions(ctx context.Context, sess Session) ([]map[string]any, error) {
	items, err := s.store.ListTransactions(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":          item.ID,
			"amount":      item.Amount,
			"type":        item.Type,
			"description": item.Description,
			"createdAt":   item.CreatedAt,
		})
	}
	return payload, nil
}

func paymentPayload(item store.PaymentRequest) map[string]any {
	payload := map[string]any{
		"id":        item.ID,
		"userId":    item.UserID,
		"planType":  item.PlanType,
		"amount":    item.Amount,
		"status":    item.Status,
		"createdAt": item.CreatedAt,
	}
	if item.UserEmail != "" {
		payload["userEmail"] = item.UserEmail
	}
	if item.UserName != "" {
		payload["userName"] = item.UserName
	}
	if item.ProcessedBy != "" {
		payload["processedBy"] = item.ProcessedBy
	}
	if item.ProcessedAt != nil {
		payload["processedAt"] = item.ProcessedAt
	}
	return payload
}

func creditPayload(item store.Credit) map[string]any {
	payload := map[string]any{
		"userId":   item.UserID,
		"balance":  item.Balance,
		"planType": item.PlanType,
	}
	if item.ExpiresAt != nil {
		payload["expiresAt"] = item.ExpiresAt
	}
	return payload
}
