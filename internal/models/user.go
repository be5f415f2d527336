package models

import "time"

// User is a parent or admin login.
type User struct {
	ID           int64     `json:"id" example:"1"`
	Name         string    `json:"name" example:"Jon Doe"`
	Email        string    `json:"email" example:"jon@example.com"`
	Role         Role      `json:"role" example:"parent"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
