//go:build linux

package iface

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// encapRadiotap is netlink's name for ARPHRD_IEEE80211_RADIOTAP, the link
// type of an interface in monitor mode.
const encapRadiotap = "ieee802.11/radiotap"

// NetlinkLinks implements Links over rtnetlink.
type NetlinkLinks struct{}

func (NetlinkLinks) link(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrLinkNotFound)
		}
		return nil, fmt.Errorf("failed to look up %s: %w", name, err)
	}
	return link, nil
}

// State implements Links.
func (l NetlinkLinks) State(name string) (LinkState, error) {
	link, err := l.link(name)
	if err != nil {
		return LinkState{}, err
	}
	attrs := link.Attrs()
	return LinkState{
		Up:           attrs.Flags&net.FlagUp != 0,
		Monitor:      attrs.EncapType == encapRadiotap,
		HardwareAddr: attrs.HardwareAddr,
	}, nil
}

// SetUp implements Links.
func (l NetlinkLinks) SetUp(name string) error {
	link, err := l.link(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}

// SetDown implements Links.
func (l NetlinkLinks) SetDown(name string) error {
	link, err := l.link(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("failed to bring down %s: %w", name, err)
	}
	return nil
}

// SetHardwareAddr implements Links.
func (l NetlinkLinks) SetHardwareAddr(name string, addr net.HardwareAddr) error {
	link, err := l.link(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetHardwareAddr(link, addr); err != nil {
		return fmt.Errorf("failed to set address on %s: %w", name, err)
	}
	return nil
}

func defaultLinks() Links {
	return NetlinkLinks{}
}
