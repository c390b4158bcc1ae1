package rxd

// Addr is a logical peer address handed out by the AddressVector
type Addr uint64

// AddrUnspec matches any peer when posted on a receive
const AddrUnspec Addr = ^Addr(0)

// IOVLimit is the most buffers a single operation may describe
const IOVLimit = 4

// Flags select optional behavior on the *Msg calls
type Flags uint32

const (
	FlagMultiRecv Flags = 1 << iota
	FlagInject
	FlagRemoteCQData
	FlagNoCompletion
	FlagPeek
	FlagClaim
	FlagDiscard
)

// Msg describes a message operation for RecvMsg, SendMsg and their tagged forms
type Msg struct {
	IOV     [][]byte
	Addr    Addr
	Tag     uint64
	Ignore  uint64
	Data    uint64
	Context any

	// Claim is set by a FlagPeek|FlagClaim receive and consumed by a FlagClaim or FlagClaim|FlagDiscard receive
	Claim *Claim
}

// Stats is a snapshot of the engine's bookkeeping
type Stats struct {
	TxInUse          int
	RxInUse          int
	Posted           int
	PostedTagged     int
	Unexpected       int
	UnexpectedTagged int
	Peers            int
	TxQueued         int
	Unacked          int
}
