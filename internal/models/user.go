package models

import (
	"time"

	"github.com/google/uuid"
)

// WelcomeBonusCredits is granted once at registration.
const WelcomeBonusCredits = 100

// InterviewCostCredits is the price of one interview session.
const InterviewCostCredits = 25

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Credits      int       `json:"credits"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
