package services

import (
	"errors"

	"pairchat-backend/internal/repository"
)

var (
	// ErrNotFound is returned when a referenced message, love note or user does not exist
	ErrNotFound = repository.ErrNotFound
	// ErrForbidden is returned when the requester is not a party to the mutated record
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserOffline is returned when a push targets a user without a live connection
	ErrUserOffline = errors.New("user is not connected")
)
