package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
	"bluebridge/internal/connmgr"
	"bluebridge/internal/discovery"
	"bluebridge/internal/relay"
)

// flushTimeout bounds how long queued lines may take to drain at EOF.
const flushTimeout = 5 * time.Second

func available(c *cli.Context) error {
	ctx, cancel := rootContext()
	defer cancel()

	d, err := discovery.New(cfg.Discovery, logger.WithField("cmd", "available"))
	if err != nil {
		return err
	}
	if !d.Available(ctx) {
		fmt.Println("no radio")
		return cli.NewExitError("", 1)
	}
	fmt.Println("radio available")
	return nil
}

func scan(c *cli.Context) error {
	ctx, cancel := rootContext()
	defer cancel()

	dc := cfg.Discovery
	if b := c.String("backend"); b != "" {
		dc.Backend = b
	}
	if n := c.Int("length"); n > 0 {
		if n > 0x30 {
			return fmt.Errorf("--length %d out of range 1..48", n)
		}
		dc.InquiryLength = uint8(n)
	}
	d, err := newScanner(dc, c.Bool("spp"), logger.WithField("cmd", "scan"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	fmt.Fprintf(os.Stderr, "Scanning (backend=%s)...\n", dc.Backend)
	addrs, err := d.Scan(ctx)
	switch {
	case errors.Is(err, bterr.NoRadio):
		return cli.NewExitError("no radio", 2)
	case errors.Is(err, bterr.Cancelled):
		return nil
	case err != nil:
		return err
	}
	if len(addrs) == 0 {
		fmt.Fprintln(os.Stderr, "no devices found")
		return nil
	}
	for _, a := range addrs {
		fmt.Println(a)
	}
	return nil
}

// newScanner builds the discoverer for scan. Only the bluez backend sees
// service UUIDs, so sppOnly requires it.
func newScanner(dc discovery.Config, sppOnly bool, log *logrus.Entry) (discovery.Discoverer, error) {
	d, err := discovery.New(dc, log)
	if err != nil {
		return nil, err
	}
	if !sppOnly {
		return d, nil
	}
	bz, ok := d.(*discovery.BlueZ)
	if !ok {
		return nil, fmt.Errorf("--spp needs the %s backend (have %q)", discovery.BackendBlueZ, dc.Backend)
	}
	bz.SPPOnly = true
	return bz, nil
}

func connect(c *cli.Context) error {
	if c.NArg() != 1 {
		_ = cli.ShowCommandHelp(c, "connect")
		return cli.NewExitError("connect: exactly one ADDR required", 2)
	}
	ctx, cancel := rootContext()
	defer cancel()

	sess := newSession("connect")
	defer sess.Shutdown()

	addr, err := btaddr.Parse(c.Args().First())
	if err != nil {
		return err
	}
	if err := openPeer(ctx, sess, addr); err != nil {
		return err
	}
	return pump(ctx, sess, addr)
}

func serve(c *cli.Context) error {
	ctx, cancel := rootContext()
	defer cancel()

	sess := newSession("serve")
	defer sess.Shutdown()

	if err := sess.Listen(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Waiting for a peer on channel %d...\n", btaddr.Channel)
	addr, err := sess.Accept(ctx)
	if err != nil {
		if errors.Is(err, bterr.Cancelled) {
			return nil
		}
		return err
	}
	// one peer only; free the channel for others
	_ = sess.CloseListener()
	fmt.Fprintf(os.Stderr, "ACCEPTED: %s\n", addr)
	return pump(ctx, sess, addr)
}

func relayLines(c *cli.Context) error {
	ctx, cancel := rootContext()
	defer cancel()

	log := logger.WithField("cmd", "relay")
	hub := relay.NewHub(log)
	defer hub.Close()
	queue := cfg.Relay.QueueSize

	if s := c.String("connect"); s != "" {
		addr, err := btaddr.Parse(s)
		if err != nil {
			return err
		}
		out := newSession("relay-out")
		defer out.Shutdown()
		if err := openPeer(ctx, out, addr); err != nil {
			return err
		}
		hub.Add(relay.NewBluetoothPeer(out, addr, queue, hub.Fail))
	}

	listen := cfg.Relay.TCPListen
	if s := c.String("tcp"); s != "" {
		listen = s
	}
	if listen != "" && !c.Bool("no-tcp") {
		srv, err := relay.ListenTCP(listen, hub, queue)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	btErr := make(chan error, 1)
	if !c.Bool("no-listen") {
		in := newSession("relay-in")
		defer in.Shutdown()
		go func() { btErr <- relay.ServeBluetooth(ctx, in, hub, queue) }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- hub.Run(ctx, os.Stdin) }()

	select {
	case err := <-btErr:
		return err
	case err := <-runErr:
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		flush(ctx, hub, log)
		return nil
	}
}

func newSession(name string) *connmgr.Session {
	return connmgr.New(nil, connmgr.WithLogger(logger.WithField("cmd", name)))
}

// openPeer connects sess to addr, bounded by session.connect_timeout.
func openPeer(ctx context.Context, sess *connmgr.Session, addr btaddr.Address) error {
	if d := cfg.Session.ConnectTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	fmt.Fprintf(os.Stderr, "Connecting to %s (timeout=%s)...\n", addr, deadlineStr(ctx))
	if err := sess.OpenAddr(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "CONNECTED: %s\n", addr)
	return nil
}

// pump sends stdin lines to the peer connected on sess until stdin ends,
// the peer fails or ctx ends.
func pump(ctx context.Context, sess *connmgr.Session, addr btaddr.Address) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.WithField("peer", addr.String())
	hub := relay.NewHub(log)
	defer hub.Close()

	failed := make(chan error, 1)
	hub.Add(relay.NewBluetoothPeer(sess, addr, cfg.Relay.QueueSize, func(cl relay.Client, err error) {
		hub.Fail(cl, err)
		failed <- err
		cancel()
	}))

	err := hub.Run(ctx, os.Stdin)
	select {
	case ferr := <-failed:
		return ferr
	default:
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	flush(ctx, hub, log)
	return nil
}

func flush(ctx context.Context, hub *relay.Hub, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := hub.Flush(ctx); err != nil {
		log.WithError(err).Warn("lines still queued at exit were dropped")
	}
}

func deadlineStr(ctx context.Context) string {
	if d, ok := ctx.Deadline(); ok {
		return time.Until(d).Truncate(time.Second).String()
	}
	return "none"
}
