package db

import (
	"time"
)

// User represents an account whose invoices are synchronized
type User struct {
	ID           int64
	Email        string
	FullName     string
	IsActive     bool
	RefreshToken *string
	AccessToken  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRefreshToken reports whether the user can take part in automatic runs
func (u *User) HasRefreshToken() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}

// HasAccessToken reports whether a short-lived token is already on file
func (u *User) HasAccessToken() bool {
	return u.AccessToken != nil && *u.AccessToken != ""
}

// DisplayName returns the full name, or the local part of the email
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	for i := 0; i < len(u.Email); i++ {
		if u.Email[i] == '@' {
			return u.Email[:i]
		}
	}
	return u.Email
}

// Invoice represents one ingested utility bill
type Invoice struct {
	ID             int64
	UserID         int64
	NIC            string
	Address        string
	ReadingDate    string
	ConsumptionKWh float64
	Link           string
	ChartArtifact  *string
	CreatedAt      time.Time
}

// ConsumptionRecord represents one monthly observation attached to an invoice
type ConsumptionRecord struct {
	ID             int64
	InvoiceID      int64
	Date           string
	ConsumptionKWh float64
}
