package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	// ErrInvalidSchedule is returned when a cron expression cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	// ErrInvalidMission is returned when a mission definition is malformed.
	ErrInvalidMission = errors.New("invalid mission definition")

	// ErrInvalidAutomation is returned when an automation fails validation.
	ErrInvalidAutomation = errors.New("invalid automation")

	// ErrInvalidPayload is returned when an action payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid action payload")

	// ErrInvalidTransition is returned for a run status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid run status transition")
)
