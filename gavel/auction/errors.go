package auction

import "errors"

// Rejection reasons returned to callers. None of these is retried
// automatically; ErrOutbidImmediately is retryable by the caller with a
// fresh amount against the now-current price.
var (
	ErrLotNotFound       = errors.New("lot not found")
	ErrLotNotBiddable    = errors.New("lot is not open for bidding")
	ErrIneligible        = errors.New("bidder is not eligible to bid")
	ErrBidTooLow         = errors.New("bid does not meet current price plus minimum increment")
	ErrOutbidImmediately = errors.New("bid was valid at submission but lost the race for the current price")
	ErrMaxTooLow         = errors.New("maximum bid must exceed the current price")
	ErrAnotherLotLive    = errors.New("another lot is live")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrAtBoundary        = errors.New("lot is already at the queue boundary")
	ErrAlreadyQueued     = errors.New("lot is already queued")
	ErrInvalidOutcome    = errors.New("outcome must be sold or unsold")
)
