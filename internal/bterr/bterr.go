// Package bterr defines the error kinds reported by the Bluetooth transport.
//
// Every user-visible failure is an *Error carrying one Kind. Kind itself
// implements error, so callers branch with errors.Is:
//
//	if errors.Is(err, bterr.NoRadio) { ... }
package bterr

import (
	"context"
	"errors"
	"net"
	"os"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	// InvalidAddress: the caller passed a malformed device address.
	InvalidAddress
	// NoRadio: no local adapter exists or Bluetooth is unsupported.
	NoRadio
	DiscoveryFailed
	ConnectFailed
	BindFailed
	ListenFailed
	AcceptFailed
	SendFailed
	// NotConnected: Send without an active connection.
	NotConnected
	// NotListening: Accept without an active listener.
	NotListening
	// Cancelled: a blocking Accept or Scan was interrupted.
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:         "unknown error",
	InvalidAddress:  "invalid bluetooth address",
	NoRadio:         "no bluetooth radio",
	DiscoveryFailed: "discovery failed",
	ConnectFailed:   "connect failed",
	BindFailed:      "bind failed",
	ListenFailed:    "listen failed",
	AcceptFailed:    "accept failed",
	SendFailed:      "send failed",
	NotConnected:    "not connected",
	NotListening:    "no listener socket",
	Cancelled:       "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// Error makes Kind usable as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a classified failure of operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error // underlying platform error, may be nil
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// E builds an *Error. If err is already an *Error of the same kind it is
// returned unchanged.
func E(kind Kind, op string, err error) error {
	var be *Error
	if errors.As(err, &be) && be.Kind == kind {
		return be
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or Unknown.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Canceled reports whether err stems from context cancellation or from a
// handle being closed underneath a blocked call.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, Cancelled)
}
