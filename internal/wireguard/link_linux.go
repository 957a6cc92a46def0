//go:build linux

package wireguard

import (
	"context"
	"errors"

	"github.com/vishvananda/netlink"
)

func netlinkLinkExists(_ context.Context, iface string) (bool, error) {
	_, err := netlink.LinkByName(iface)
	if err == nil {
		return true, nil
	}
	var notFound netlink.LinkNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}
