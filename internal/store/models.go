package store

import (
	"errors"
	"time"
)

// Sentinel errors returned by the store.
var (
	ErrNotFound = errors.New("store: not found")
)

// Helper is a registered volunteer willing to receive calls.
type Helper struct {
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Zipcode      string    `json:"zipcode"`
	District     string    `json:"district"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Customer is a caller who has confirmed a postcode at least once.
type Customer struct {
	Phone     string    `json:"phone"`
	Zipcode   string    `json:"zipcode"`
	District  string    `json:"district"`
	CreatedAt time.Time `json:"created_at"`
}

// Pairing roles stored in active_pairings. Each row maps one phone to the
// peer it is currently matched with; a full match writes both directions.
const (
	RoleHelper   = "helper"
	RoleCustomer = "customer"
)
