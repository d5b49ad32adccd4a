package session

import (
	"errors"
	"fmt"
)

var (
	// ErrLoginFailed matches every rejected login exchange.
	ErrLoginFailed = errors.New("login failed")
	// ErrMalformedLoginResponse means a successful login response lacked one
	// of the four session fields.
	ErrMalformedLoginResponse = errors.New("malformed login response")
	// ErrCodeParamRejected is returned by an Authenticator when the remote
	// refused the request shape because of the code parameter itself, as
	// opposed to refusing the code's value.
	ErrCodeParamRejected = errors.New("login endpoint rejected the code parameter")
)

// LoginError carries the remote's message for a rejected login.
type LoginError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *LoginError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("login failed (status %d): %s", e.StatusCode, msg)
	}
	return "login failed: " + msg
}

func (e *LoginError) Is(target error) bool { return target == ErrLoginFailed }

func (e *LoginError) Unwrap() error { return e.Err }
