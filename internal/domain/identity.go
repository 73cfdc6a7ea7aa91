package domain

import (
	"crypto/subtle"
	"time"

	"github.com/diagnosis/userhub/internal/utils"
)

const (
	NameMinLen     = 2
	NameMaxLen     = 50
	PasswordMinLen = 4
	PasswordMaxLen = 128
)

// Identity is a user account. Secrets never leave through JSON.
type Identity struct {
	ID           string     `json:"id"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phoneNumber,omitempty"`
	PasswordHash *string    `json:"-"`
	Role         Role       `json:"role"`
	OTP          *string    `json:"-"`
	OTPExpiry    *time.Time `json:"-"`
	IsVerified   bool       `json:"isVerified"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type State string

const (
	StateUnverified State = "UNVERIFIED"
	StateActive     State = "ACTIVE"
)

// State derives the lifecycle stage from the record fields.
func (i *Identity) State() State {
	if i.IsVerified && i.PasswordHash != nil {
		return StateActive
	}
	return StateUnverified
}

func (i *Identity) EmailValue() string {
	if i.Email == nil {
		return ""
	}
	return *i.Email
}

func (i *Identity) PhoneValue() string {
	if i.Phone == nil {
		return ""
	}
	return *i.Phone
}

func (i *Identity) SetOTP(code string, expiry time.Time) {
	i.OTP = &code
	i.OTPExpiry = &expiry
}

func (i *Identity) ClearOTP() {
	i.OTP = nil
	i.OTPExpiry = nil
}

// CheckOTP fails with ErrInvalidOTP on mismatch, a missing code, or expiry.
func (i *Identity) CheckOTP(code string, now time.Time) error {
	if i.OTP == nil || i.OTPExpiry == nil {
		return ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(*i.OTP), []byte(code)) != 1 {
		return ErrInvalidOTP
	}
	if !now.Before(*i.OTPExpiry) {
		return ErrInvalidOTP
	}
	return nil
}

func StringPtr(s string) *string {
	return &s
}

// Requests

type RegisterRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Password    string `json:"password"`
}

type LoginResponse struct {
	User      *Identity `json:"user"`
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
}

type PhoneOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type VerifyPhoneRegisterRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password"`
}

type EmailOTPRequest struct {
	Email string `json:"email"`
}

type VerifyEmailOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type UpdateProfileRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
}

type AdminUpdateRequest struct {
	UpdateProfileRequest
	Role *Role `json:"role,omitempty"`
}

// Normalize methods

func (r *RegisterRequest) Normalize() {
	r.FirstName = utils.NormalizeString(r.FirstName)
	r.LastName = utils.NormalizeString(r.LastName)
	r.Email = utils.NormalizeEmail(r.Email)
	r.PhoneNumber = utils.NormalizePhone(r.PhoneNumber)
}

func (r *LoginRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
	r.PhoneNumber = utils.NormalizePhone(r.PhoneNumber)
}

func (r *PhoneOTPRequest) Normalize() {
	r.PhoneNumber = utils.NormalizePhone(r.PhoneNumber)
}

func (r *VerifyPhoneRegisterRequest) Normalize() {
	r.PhoneNumber = utils.NormalizePhone(r.PhoneNumber)
	r.OTP = utils.NormalizeString(r.OTP)
	r.FirstName = utils.NormalizeString(r.FirstName)
	r.LastName = utils.NormalizeString(r.LastName)
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *EmailOTPRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *VerifyEmailOTPRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
	r.OTP = utils.NormalizeString(r.OTP)
}

func (r *UpdateProfileRequest) Normalize() {
	if r.FirstName != nil {
		r.FirstName = StringPtr(utils.NormalizeString(*r.FirstName))
	}
	if r.LastName != nil {
		r.LastName = StringPtr(utils.NormalizeString(*r.LastName))
	}
	if r.Email != nil {
		r.Email = StringPtr(utils.NormalizeEmail(*r.Email))
	}
	if r.PhoneNumber != nil {
		r.PhoneNumber = StringPtr(utils.NormalizePhone(*r.PhoneNumber))
	}
}

// Validation methods

func (r *RegisterRequest) Validate() error {
	v := &ValidationError{}
	checkName(v, "firstName", r.FirstName)
	checkName(v, "lastName", r.LastName)
	checkEmail(v, "email", r.Email)
	checkPhone(v, "phoneNumber", r.PhoneNumber)
	checkPassword(v, "password", r.Password)
	return v.orNil()
}

func (r *LoginRequest) Validate() error {
	v := &ValidationError{}
	switch {
	case r.Email != "":
		checkEmail(v, "email", r.Email)
	case r.PhoneNumber != "":
		checkPhone(v, "phoneNumber", r.PhoneNumber)
	default:
		v.add("email", "email or phoneNumber is required")
	}
	checkPassword(v, "password", r.Password)
	return v.orNil()
}

func (r *PhoneOTPRequest) Validate() error {
	v := &ValidationError{}
	checkPhone(v, "phoneNumber", r.PhoneNumber)
	return v.orNil()
}

func (r *VerifyPhoneRegisterRequest) Validate() error {
	v := &ValidationError{}
	checkPhone(v, "phoneNumber", r.PhoneNumber)
	if !utils.IsValidOTP(r.OTP) {
		v.add("otp", "must be 6 digits")
	}
	checkName(v, "firstName", r.FirstName)
	checkName(v, "lastName", r.LastName)
	if r.Email != "" {
		checkEmail(v, "email", r.Email)
	}
	checkPassword(v, "password", r.Password)
	return v.orNil()
}

func (r *EmailOTPRequest) Validate() error {
	v := &ValidationError{}
	checkEmail(v, "email", r.Email)
	return v.orNil()
}

func (r *VerifyEmailOTPRequest) Validate() error {
	v := &ValidationError{}
	checkEmail(v, "email", r.Email)
	if r.OTP == "" {
		v.add("otp", "is required")
	}
	return v.orNil()
}

func (r *UpdateProfileRequest) Validate() error {
	v := &ValidationError{}
	if r.FirstName != nil {
		checkName(v, "firstName", *r.FirstName)
	}
	if r.LastName != nil {
		checkName(v, "lastName", *r.LastName)
	}
	if r.Email != nil {
		checkEmail(v, "email", *r.Email)
	}
	if r.PhoneNumber != nil {
		checkPhone(v, "phoneNumber", *r.PhoneNumber)
	}
	return v.orNil()
}

// Apply copies name and phone changes onto the identity. Email is left to the caller.
func (r *UpdateProfileRequest) Apply(i *Identity) []string {
	var changed []string
	if r.FirstName != nil {
		i.FirstName = *r.FirstName
		changed = append(changed, "firstName")
	}
	if r.LastName != nil {
		i.LastName = *r.LastName
		changed = append(changed, "lastName")
	}
	if r.PhoneNumber != nil {
		i.Phone = StringPtr(*r.PhoneNumber)
		changed = append(changed, "phoneNumber")
	}
	return changed
}

func checkName(v *ValidationError, field, value string) {
	if !utils.LengthBetween(value, NameMinLen, NameMaxLen) {
		v.add(field, "must be between 2 and 50 characters")
	}
}

func checkEmail(v *ValidationError, field, value string) {
	if value == "" {
		v.add(field, "is required")
		return
	}
	if !utils.IsValidEmail(value) {
		v.add(field, "invalid email format")
	}
}

func checkPhone(v *ValidationError, field, value string) {
	if value == "" {
		v.add(field, "is required")
		return
	}
	if !utils.IsValidPhone(value) {
		v.add(field, "must be exactly 10 digits")
	}
}

func checkPassword(v *ValidationError, field, value string) {
	if !utils.LengthBetween(value, PasswordMinLen, PasswordMaxLen) {
		v.add(field, "must be between 4 and 128 characters")
	}
}
