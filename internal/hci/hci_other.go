//go:build !linux

package hci

import (
	"context"

	"bluebridge/internal/btaddr"
)

func Route() (int, error) { return -1, ErrNoDevice }

func DeviceInfo(id int) (Info, error) { return Info{}, ErrNotSupported }

func Inquiry(ctx context.Context, dev int, p InquiryParams) ([]btaddr.Address, error) {
	return nil, ErrNotSupported
}
