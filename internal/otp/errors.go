package otp

import "errors"

var (
	// ErrInvalidPhoneNumber is returned before any send when the number is not E.164.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	// ErrDelivery wraps every gateway failure.
	ErrDelivery = errors.New("sms delivery failed")
)
