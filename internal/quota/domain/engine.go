// Package domain contains the pure quota decision and the types around it.
package domain

import (
	"errors"

	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
)

type Resource string

const (
	ResourceCalls     Resource = "calls"
	ResourceStorageMB Resource = "storage_mb"
	ResourceSeats     Resource = "seats"
)

func ParseResource(raw string) (Resource, error) {
	switch r := Resource(raw); r {
	case ResourceCalls, ResourceStorageMB, ResourceSeats:
		return r, nil
	}
	return "", ErrInvalidResource
}

// Allowance is one tier row of the plan catalog.
type Allowance struct {
	CallsPerMonth int64
	StorageMB     int64
	Seats         int64
}

// UsageState is the slice of the organization row a decision needs.
type UsageState struct {
	Tier           orgdomain.Tier
	CallsUsed      int64
	CallsLimit     int64
	StorageUsedMB  int64
	StorageLimitMB int64
	Seats          int64
	CreditsBalance int64
}

type Decision struct {
	Allowed     bool     `json:"allowed"`
	Resource    Resource `json:"resource"`
	CurrentUsed int64    `json:"current_used"`
	Limit       int64    `json:"limit"`
	Remaining   int64    `json:"remaining"`
}

// CanConsume decides whether requested more units of resource fit. The bound
// is inclusive: used+requested == limit is allowed. Pay-as-you-go calls are
// bounded by the credit balance, one credit per call.
func CanConsume(state UsageState, allowance Allowance, resource Resource, requested int64) Decision {
	var used, limit int64
	switch resource {
	case ResourceCalls:
		if state.Tier == orgdomain.TierPayAsYouGo {
			used, limit = 0, state.CreditsBalance
		} else {
			used, limit = state.CallsUsed, positiveOr(state.CallsLimit, allowance.CallsPerMonth)
		}
	case ResourceStorageMB:
		used, limit = state.StorageUsedMB, positiveOr(state.StorageLimitMB, allowance.StorageMB)
	case ResourceSeats:
		used, limit = state.Seats, allowance.Seats
	default:
		return Decision{Resource: resource}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     requested >= 0 && used+requested <= limit,
		Resource:    resource,
		CurrentUsed: used,
		Limit:       limit,
		Remaining:   remaining,
	}
}

func positiveOr(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

var (
	ErrQuotaExceeded   = errors.New("quota_exceeded")
	ErrInvalidResource = errors.New("invalid_resource")
	ErrInvalidUnits    = errors.New("invalid_units")
	ErrUnknownTier     = errors.New("unknown_tier")
)
