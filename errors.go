package rxd

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrAgain is returned when the completion queue or a pool is exhausted. Nothing was changed, retry after progress.
var ErrAgain = iox.ErrWouldBlock

// Contract violations, returned before any state changes
var (
	ErrIOVLimit       = errors.New("too many buffers in scatter/gather list")
	ErrMsgTooLarge    = errors.New("message exceeds endpoint.max_msg_size")
	ErrInjectTooLarge = errors.New("inject payload exceeds endpoint.inject_size")
	ErrMultiRecvIOV   = errors.New("multi-recv requires exactly one buffer")
	ErrPeekUntagged   = errors.New("peek, claim and discard require a tagged receive")
	ErrClaimUsed      = errors.New("claim handle was already consumed")
	ErrNoClaim        = errors.New("claim or discard without a claimed message")
	ErrUnknownAddr    = errors.New("address is not in the address vector")
	ErrClosed         = errors.New("endpoint is closed")
)

// Errors carried by error completions
var (
	ErrNoMessage       = errors.New("no matching message")
	ErrCanceled        = errors.New("operation canceled")
	ErrPeerUnreachable = errors.New("peer did not respond")
	ErrPeerReset       = errors.New("peer restarted its session")
)

var (
	errInvalidOp  = errors.New("invalid op code or tag flag")
	errInvalidSAR = errors.New("invalid sar descriptor")
)

func IsAgain(err error) bool {
	return iox.IsWouldBlock(err)
}
