package authapi

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"medauth/cmd/internal/auth"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{5,19}$`)

type registerRequest struct {
	FullName string  `json:"fullName"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Phone, validation.NilOrNotEmpty, validation.Match(phonePattern)),
		validation.Field(&r.Password, validation.Required),
	)
}

type loginRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	DeviceName *string `json:"deviceName"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.DeviceName, validation.Length(0, 100)),
	)
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

func (r logoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SessionID, validation.Required),
	)
}

type forgetPasswordRequest struct {
	Email string `json:"email"`
}

func (r forgetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type verifyOtpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (r verifyOtpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.OTP, validation.Required, validation.Length(4, 10), is.Digit),
	)
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

func (r resetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

type authResponse struct {
	Message     string              `json:"message"`
	AccessToken string              `json:"accessToken"`
	Session     auth.SessionSummary `json:"session"`
}

type meResponse struct {
	User auth.UserSummary `json:"user"`
}

type onlineResponse struct {
	Count int64 `json:"count"`
}
