// Package noise scores per-host Sysmon event patterns against role-based
// rate thresholds and renders exclusion rules for the noisiest ones.
package noise

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors callers can map to a client fault.
var (
	ErrUnknownRole      = errors.New("unknown host role")
	ErrInvalidTimeRange = errors.New("time range must be positive")
	ErrNoHostsSelected  = errors.New("at least one host is required")
)

// Host roles. A host's role picks the threshold row; servers and domain
// controllers legitimately generate far more events than workstations.
const (
	RoleWorkstation      = "workstation"
	RoleServer           = "server"
	RoleDomainController = "domaincontroller"
)

// Sysmon event type ids covered by noise analysis.
const (
	EventProcessCreate     = 1
	EventNetworkConnection = 3
	EventImageLoad         = 7
	EventFileCreate        = 11
	EventDnsQuery          = 22
)

// thresholds holds events-per-hour ceilings per role and event type.
// A pattern running at exactly the ceiling scores 1.0.
var thresholds = map[string]map[int]float64{
	RoleWorkstation: {
		EventProcessCreate:     50,
		EventNetworkConnection: 100,
		EventImageLoad:         500,
		EventFileCreate:        200,
		EventDnsQuery:          300,
	},
	RoleServer: {
		EventProcessCreate:     100,
		EventNetworkConnection: 500,
		EventImageLoad:         800,
		EventFileCreate:        400,
		EventDnsQuery:          800,
	},
	RoleDomainController: {
		EventProcessCreate:     150,
		EventNetworkConnection: 1000,
		EventImageLoad:         1000,
		EventFileCreate:        600,
		EventDnsQuery:          2000,
	},
}

// NormalizeRole canonicalizes a role string; empty defaults to workstation.
func NormalizeRole(role string) (string, error) {
	r := strings.ToLower(strings.TrimSpace(role))
	switch r {
	case "":
		return RoleWorkstation, nil
	case RoleWorkstation, RoleServer, RoleDomainController:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// LookupThreshold returns the events-per-hour ceiling for a role and event
// type. Unknown roles are a validation error; unknown event types return 0
// and the caller skips the pattern.
func LookupThreshold(role string, eventID int) (float64, error) {
	r, err := NormalizeRole(role)
	if err != nil {
		return 0, err
	}
	return thresholds[r][eventID], nil
}

// ThresholdsForRole returns the full event-type table for a role.
func ThresholdsForRole(role string) (map[int]float64, error) {
	r, err := NormalizeRole(role)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(thresholds[r]))
	for id, v := range thresholds[r] {
		out[id] = v
	}
	return out, nil
}
