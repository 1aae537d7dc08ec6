//go:build !linux

package iface

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("link control is only supported on linux")

type unsupportedLinks struct{}

func (unsupportedLinks) State(string) (LinkState, error) { return LinkState{}, errUnsupported }
func (unsupportedLinks) SetUp(string) error { return errUnsupported }
func (unsupportedLinks) SetDown(string) error { return errUnsupported }
func (unsupportedLinks) SetHardwareAddr(string, net.HardwareAddr) error { return errUnsupported }

func defaultLinks() Links {
	return unsupportedLinks{}
}
