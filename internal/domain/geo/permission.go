package geo

import (
	"errors"
	"strings"
)

// PermissionState classifies the device location-access grant.
type PermissionState string

const (
	PermissionGranted    PermissionState = "GRANTED"
	PermissionDenied     PermissionState = "DENIED"
	PermissionRestricted PermissionState = "RESTRICTED"
)

var ErrInvalidPermissionState = errors.New("invalid location permission state")

// ParsePermissionState normalizes and validates a permission state string.
func ParsePermissionState(in string) (PermissionState, error) {
	state := PermissionState(strings.ToUpper(strings.TrimSpace(in)))
	if state.Valid() {
		return state, nil
	}
	return "", ErrInvalidPermissionState
}

// Valid reports whether the state is one of the allowed constants.
func (state PermissionState) Valid() bool {
	switch state {
	case PermissionGranted, PermissionDenied, PermissionRestricted:
		return true
	default:
		return false
	}
}

// Usable reports whether location sampling is allowed at all.
func (state PermissionState) Usable() bool {
	return state == PermissionGranted
}

func (state PermissionState) String() string { return string(state) }
