package iface

import (
	"errors"
	"net"
)

// ErrLinkNotFound is returned by Links when the named interface is absent.
var ErrLinkNotFound = errors.New("link not found")

// LinkState is what the kernel reports about one interface.
type LinkState struct {
	Up           bool
	Monitor      bool
	HardwareAddr net.HardwareAddr
}

// Links reads and changes link state. Entering monitor mode is left to the
// external airmon tooling, which handles driver quirks netlink does not.
type Links interface {
	State(name string) (LinkState, error)
	SetUp(name string) error
	SetDown(name string) error
	SetHardwareAddr(name string, addr net.HardwareAddr) error
}
