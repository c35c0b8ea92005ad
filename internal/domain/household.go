package domain

import "time"

// Household groups the users whose transactions are tracked together.
type Household struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DefaultCurrency string    `json:"default_currency"`
	Locale          string    `json:"locale"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is a member of a household.
type User struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale"`
}
