//go:build windows

package server

import "syscall"

// reuseAddrControl is a no-op on Windows, where the runtime's default socket
// options already permit immediate rebinding after restart.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
