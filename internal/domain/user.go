package domain

import "time"

// User is an account registered through the users API.
type User struct {
	ID        string
	FirstName string
	LastName  string
	CreatedAt time.Time
}
