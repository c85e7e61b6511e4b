package auction

import "context"

// EligibilityGate is supplied by the external registration/verification
// subsystem. It may be slow; the arbiter calls it outside the per-lot
// serialization point, bounded by a timeout, and treats a timeout or error
// as "not eligible".
type EligibilityGate interface {
	CanBid(ctx context.Context, bidderID string) (bool, error)
}

// OpenGate admits every bidder. Useful for local runs and tests where the
// verification subsystem is not wired.
type OpenGate struct{}

func (OpenGate) CanBid(context.Context, string) (bool, error) { return true, nil }
