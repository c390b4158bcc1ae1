//go:build !unix

package udp

import "errors"

var errNoSockopt = errors.New("socket buffer sizes are not supported on this platform")

func setRecvBuffer(_ uintptr, _ int) error {
	return errNoSockopt
}

func setSendBuffer(_ uintptr, _ int) error {
	return errNoSockopt
}

func getRecvBuffer(_ uintptr) (int, error) {
	return 0, errNoSockopt
}

func getSendBuffer(_ uintptr) (int, error) {
	return 0, errNoSockopt
}

func isTemporary(_ error) bool {
	return false
}
