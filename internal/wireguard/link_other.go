//go:build !linux

package wireguard

import (
	"context"
	"errors"
)

func netlinkLinkExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("netlink status source is only available on linux")
}
