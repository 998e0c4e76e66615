package validation

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Name            string `json:"name"`
}

func (r *RegisterRequest) Validate() error {
	r.Email = repository.NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	return validation.ValidateStruct(r,
		validation.Field(&r.Name,
			validation.Required.Error("Name is required"),
			validation.RuneLength(0, 100).Error("Name must be less than 100 characters"),
		),
		validation.Field(&r.Email, EmailRules()...),
		validation.Field(&r.Password, PasswordRules("Password")...),
		validation.Field(&r.ConfirmPassword, Equals(r.Password, "Passwords do not match")),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Email = repository.NormalizeEmail(r.Email)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, EmailRules()...),
		validation.Field(&r.Password, validation.Required.Error("Password is required")),
	)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r *RefreshRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required.Error("Refresh token is required")),
	)
}

// LogoutRequest carries an optional refresh token; it never fails.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ForgotPasswordRequest) Validate() error {
	r.Email = repository.NormalizeEmail(r.Email)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, EmailRules()...),
	)
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r *ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required.Error("Token is required")),
		validation.Field(&r.NewPassword, PasswordRules("New password")...),
		validation.Field(&r.ConfirmPassword, Equals(r.NewPassword, "Passwords do not match")),
	)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r *ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CurrentPassword, validation.Required.Error("Current password is required")),
		validation.Field(&r.NewPassword, PasswordRules("New password")...),
		validation.Field(&r.ConfirmPassword, Equals(r.NewPassword, "Passwords do not match")),
	)
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

func (r *VerifyEmailRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required.Error("Token is required")),
	)
}

// UpdateStatusRequest is the admin payload for suspending or reactivating an
// account.  Deletion has its own endpoint.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (r *UpdateStatusRequest) Validate() error {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	return validation.ValidateStruct(r,
		validation.Field(&r.Status,
			validation.Required.Error("Status is required"),
			validation.In(model.StatusActive, model.StatusSuspended).Error("Status must be active or suspended"),
		),
	)
}
