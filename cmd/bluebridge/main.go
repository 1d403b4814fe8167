// Command bluebridge bridges newline-delimited text between stdin,
// Bluetooth RFCOMM peers and TCP clients.
//
// Prerequisites (linux)
// - A Bluetooth adapter that is up: `bluetoothctl power on` or `hciconfig hci0 up`.
// - Listening on RFCOMM channel 1 and running an inquiry usually need
//   CAP_NET_ADMIN/CAP_NET_RAW or sudo.
// - The bluez discovery backend needs bluetoothd and system D-Bus access.
//
// Examples
//
//	bluebridge available
//	bluebridge scan --length 8
//	gpspipe -r | bluebridge connect 00:1A:7D:DA:71:13
//	bluebridge serve < track.nmea
//	gpspipe -r | bluebridge relay --connect 00:1A:7D:DA:71:13 --tcp :4352
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"bluebridge/internal/config"
	"bluebridge/internal/observability"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func main() {
	app := cli.NewApp()

	app.Name = "bluebridge"
	app.Usage = "Bridge text lines over Bluetooth RFCOMM"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "config file (default: bluebridge.yaml in ., ./configs, ~/.bluebridge)",
			EnvVar: "BLUEBRIDGE_CONFIG",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error; overrides log.level",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "available",
			Usage:  "Report whether a Bluetooth radio can be used",
			Action: available,
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Inquire for nearby devices and print their addresses",
			Action:  scan,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "backend, b", Usage: "hci or bluez; overrides discovery.backend"},
				cli.IntFlag{Name: "length, l", Usage: "inquiry length in units of 1.28s; overrides discovery.inquiry_length"},
				cli.BoolFlag{Name: "spp", Usage: "bluez backend: only devices advertising the serial port profile"},
			},
		},
		{
			Name:      "connect",
			Aliases:   []string{"c"},
			Usage:     "Connect to a peer and send it stdin lines",
			ArgsUsage: "ADDR",
			Action:    connect,
		},
		{
			Name:   "serve",
			Usage:  "Accept one peer on channel 1 and send it stdin lines",
			Action: serve,
		},
		{
			Name:   "relay",
			Usage:  "Fan stdin lines out to Bluetooth peers and TCP clients",
			Action: relayLines,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "connect", Usage: "address of a peer to connect to"},
				cli.StringFlag{Name: "tcp", Usage: "TCP listen address; overrides relay.tcp_listen"},
				cli.BoolFlag{Name: "no-tcp", Usage: "do not accept TCP clients"},
				cli.BoolFlag{Name: "no-listen", Usage: "do not accept Bluetooth peers"},
			},
		},
	}

	app.Before = setup
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "bluebridge: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var err error
	cfg, err = config.Load(c.GlobalString("config"))
	if err != nil {
		return errors.Wrap(err, "can't load config")
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err = observability.SetupLogger(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "can't set up logging")
	}
	return nil
}

// rootContext is cancelled on SIGINT or SIGTERM.
func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.WithField("signal", s.String()).Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}
