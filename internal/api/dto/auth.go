package dto

// RequestResetRequest asks for a password reset email.
type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConsumeResetRequest applies a new password with a reset token.
type ConsumeResetRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// ValidateResetResponse is returned from the read-only token check.
type ValidateResetResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
	Error string `json:"error,omitempty"`
}
