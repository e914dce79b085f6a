// Package users owns user identity and the credit ledger.
//
// A user is created on first successful OTP verification and seeded with a
// configurable credit balance. Credits are charged for order creation and
// pledging, and refunded when an order expires. The ledger operations are
// row-conditional so a balance can never go negative under concurrency.
package users

import (
	"errors"
	"time"
)

// ErrNotFound is returned when the user does not exist.
var ErrNotFound = errors.New("user not found")

// User is a registered account keyed by phone number.
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	PushToken   string    `json:"-"`
	Credits     int       `json:"credits"`
	CreatedAt   time.Time `json:"createdAt"`
}
