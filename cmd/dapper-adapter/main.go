// Command dapper-adapter is the launcher entrypoint: it binds a listener
// for exactly one IDE connection and drives it through an adapter.Adapter
// until the connection closes. CLI parsing, logging configuration, and
// process lifecycle are explicitly outside the core's scope; this is the
// one outer shell that wires them up.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/cranehill/dapper/internal/adapter"
	"github.com/cranehill/dapper/internal/transport"
)

func main() {
	var (
		family   = pflag.String("listen", "auto", "IDE listener family: auto, tcp, unix, or pipe")
		host     = pflag.String("host", "127.0.0.1", "host to bind when --listen=tcp")
		port     = pflag.Int("port", 0, "port to bind when --listen=tcp (0 = ephemeral)")
		path     = pflag.String("path", "", "socket path to bind when --listen=unix")
		pipeName = pflag.String("pipe", "", "pipe name to bind when --listen=pipe")
		logLevel = pflag.String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	)
	pflag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid --log-level")
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	cfg := transport.Config{
		Family:   transport.Family(*family),
		Host:     *host,
		Port:     *port,
		Path:     *path,
		PipeName: *pipeName,
		OnBound: func(addr string) {
			entry.WithField("addr", addr).Info("listening for IDE connection")
		},
	}

	ln, err := transport.Listen(cfg)
	if err != nil {
		entry.WithError(err).Fatal("bind IDE listener")
	}
	defer ln.Close()

	conn, err := ln.Accept(context.Background())
	if err != nil {
		entry.WithError(err).Fatal("accept IDE connection")
	}
	defer conn.Close()

	a := adapter.New(conn, conn, entry)
	if err := a.Serve(); err != nil {
		entry.WithError(err).Error("adapter terminated with error")
		os.Exit(1)
	}
}
