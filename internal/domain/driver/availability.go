package driver

import (
	"errors"
	"strings"
)

// Availability is the driver's matching-engine visibility.
type Availability string

const (
	AvailabilityOffline   Availability = "OFFLINE"
	AvailabilityAvailable Availability = "AVAILABLE"
)

var ErrInvalidAvailability = errors.New("invalid driver availability")

// ParseAvailability normalizes (uppercases+trims) and validates an availability string.
func ParseAvailability(in string) (Availability, error) {
	availability := Availability(strings.ToUpper(strings.TrimSpace(in)))
	if availability.Valid() {
		return availability, nil
	}
	return "", ErrInvalidAvailability
}

// Valid reports whether the availability is one of the allowed constants.
func (availability Availability) Valid() bool {
	switch availability {
	case AvailabilityOffline, AvailabilityAvailable:
		return true
	default:
		return false
	}
}

// Online reports whether the driver is visible to the matching engine.
func (availability Availability) Online() bool {
	return availability == AvailabilityAvailable
}

func (availability Availability) String() string { return string(availability) }
