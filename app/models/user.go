package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	USER_SOURCE_CHECKOUT = "checkout"
	USER_SOURCE_SIGNUP   = "signup"
)

// User is the application identity that premium access is granted to.
// Users created from a completed checkout arrive with a confirmed email.
type User struct {
	ID               string     `gorm:"primaryKey;type:char(36)" json:"id" validate:"required,uuid4"`
	Email            string     `gorm:"uniqueIndex:ux_users_email;type:varchar(200);not null" json:"email" validate:"required,email,max=200"`
	EmailConfirmedAt *time.Time `gorm:"type:timestamp;default:null" json:"email_confirmed_at,omitempty"`
	Source           string     `gorm:"type:varchar(20);default:'signup'" json:"source" validate:"oneof=checkout signup"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewCheckoutUser builds a user for an email first seen on a completed
// checkout. The email counts as confirmed because the provider collected it.
func NewCheckoutUser(email string, now time.Time) (*User, error) {
	confirmed := now
	u := &User{
		ID:               uuid.New().String(),
		Email:            NormalizeEmail(email),
		EmailConfirmedAt: &confirmed,
		Source:           USER_SOURCE_CHECKOUT,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// NormalizeEmail lower-cases and trims an address so the unique index
// compares like the provider does.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmailConfirmed reports whether the user has a confirmed email address
func (u *User) IsEmailConfirmed() bool {
	return u.EmailConfirmedAt != nil
}
