package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/config"
	apperrors "github.com/sitekeeper/sitekeeper/internal/pkg/errors"
)

type SlackService interface {
	Send(ctx context.Context, channel, message string) error
}

type EmailService interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// CredentialService updates the stored credential at the identity provider.
type CredentialService interface {
	UpdatePassword(ctx context.Context, accountID, newPassword string) error
}

type InMemorySlack struct {
	Messages []string
}

type WebhookSlack struct {
	WebhookURL string
	HTTPClient *http.Client
}

func (s *InMemorySlack) Send(ctx context.Context, channel, message string) error {
	s.Messages = append(s.Messages, message)
	return nil
}

// WebhookSlack posts a message to a Slack Incoming Webhook. channel is
// optional; if provided, it overrides the default channel configured for the
// webhook.
func (s *WebhookSlack) Send(ctx context.Context, channel, message string) error {
	if s == nil || s.WebhookURL == "" {
		return errors.New("slack webhook not configured")
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	payload := map[string]any{
		"text": message,
	}
	if channel != "" {
		payload["channel"] = channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type InMemoryEmail struct {
	Sent []string // recipient addresses
}

func (s *InMemoryEmail) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	s.Sent = append(s.Sent, email)
	return nil
}

// LoopsEmail sends transactional email through the Loops API.
type LoopsEmail struct {
	APIKey     string
	TemplateID string
	HTTPClient *http.Client
}

func NewLoopsEmail(cfg config.EmailConfig) *LoopsEmail {
	return &LoopsEmail{
		APIKey:     cfg.LoopsAPIKey,
		TemplateID: cfg.ResetTemplateID,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (s *LoopsEmail) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	if s.APIKey == "" {
		return errors.New("email provider not configured")
	}
	payload := map[string]any{
		"transactionalId": s.TemplateID,
		"email":           email,
		"dataVariables": map[string]string{
			"resetUrl": resetURL,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://app.loops.so/api/v1/transactional", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	return nil
}

// IdentityCredentials updates passwords through the identity provider's
// admin API.
type IdentityCredentials struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewIdentityCredentials(baseURL, apiKey string) *IdentityCredentials {
	return &IdentityCredentials{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *IdentityCredentials) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	if s.BaseURL == "" || s.APIKey == "" {
		return apperrors.Configuration("identity provider not configured")
	}
	payload, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1/accounts/%s/password", s.BaseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Internal("Identity provider unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// The provider rejected the new password itself.
		return apperrors.ValidationError("Password rejected by identity provider", nil)
	default:
		return apperrors.Internal(fmt.Sprintf("identity provider returned status %d", resp.StatusCode), nil)
	}
}

// InMemoryCredentials is a test double for the identity provider's credential
// update call.
type InMemoryCredentials struct {
	Passwords map[string]string
	FailNext  error
	CallCount int
}

func NewInMemoryCredentials() *InMemoryCredentials {
	return &InMemoryCredentials{Passwords: make(map[string]string)}
}

func (s *InMemoryCredentials) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	s.CallCount++
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	s.Passwords[accountID] = newPassword
	return nil
}
