package store

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateReference   = errors.New("duplicate payment reference")
	ErrRegistrationNotFound = errors.New("registration not found")
)
