// internal/models/user.go
package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User accounts are owned by the identity/catalog side of the
// platform; the auction and order core only reads them to check that
// an actor exists and may transact.
type User struct {
	BaseModel
	Username        string     `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email           string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash    string     `json:"-" gorm:"size:255;not null"`
	Status          UserStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	Phone           string     `json:"phone" gorm:"size:30"`
	Address         string     `json:"address" gorm:"size:255"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	LastLoginAt     *time.Time `json:"last_login_at"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// CanTransact requires an active account with a verified email, the
// eligibility bar for placing orders.
func (u *User) CanTransact() bool {
	return u.Status == UserStatusActive && u.EmailVerifiedAt != nil
}
