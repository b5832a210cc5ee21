// Package models holds the persistent entities shared by repositories and
// services on the server side.
package models

import "time"

// User is the record-store representation of an account. PasswordHash is an
// opaque bcrypt blob and is never returned to clients.
type User struct {
	ID           string
	UserName     string
	Email        string
	PasswordHash string
	Confirmed    bool
	Role         string
	AvatarURL    string
	CreatedAt    time.Time
}
