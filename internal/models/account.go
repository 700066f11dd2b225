package models

import "time"

// Account is the identity record behind every login. Rows live in MySQL and
// are only ever hard-deleted by explicit administrative action.
type Account struct {
	ID             uint      `gorm:"primaryKey" json:"account_id"`
	Username       string    `gorm:"size:50;not null" json:"name"`
	Email          string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	HashedPassword string    `gorm:"size:255;not null" json:"-"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	AccessType     string    `gorm:"size:50;not null" json:"access_type"`
	GoogleLinked   bool      `gorm:"default:false" json:"google_linked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
