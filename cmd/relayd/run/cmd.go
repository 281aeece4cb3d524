// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package run starts a relay node and serves its API until a shutdown
// signal arrives.
package run

import (
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/corruptabledb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/relay"
	"github.com/luxfi/relay/api"
	"github.com/luxfi/relay/api/server"
)

const shutdownTimeout = 10 * time.Second

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "relayd",
		Short: "Runs a relay node",
		RunE:  runFunc,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	cfg, allowedOrigins, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.NewLogger("relayd")
	registry := metric.NewRegistry()

	// Without a data directory the node keeps its state in memory and
	// loses it on exit.
	var db database.Database
	if cfg.DataDir == "" {
		db = memdb.New()
	} else {
		inner, err := badgerdb.New(cfg.DataDir, nil, "", nil)
		if err != nil {
			return err
		}
		db = corruptabledb.New(inner, logger)
	}

	r, err := relay.New(cfg, db, nil, logger, registry)
	if err != nil {
		_ = db.Close()
		return err
	}

	routes, err := api.Routes(logger, r, registry)
	if err != nil {
		_ = db.Close()
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.APIHost, strconv.Itoa(int(cfg.APIPort))))
	if err != nil {
		_ = db.Close()
		return err
	}

	srv, err := server.New(
		logger,
		listener,
		routes,
		allowedOrigins,
		shutdownTimeout,
		registry,
		server.HTTPConfig{
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	)
	if err != nil {
		_ = db.Close()
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-signals
		logger.Info("shutting down",
			log.Stringer("signal", s),
		)
		if err := srv.Shutdown(); err != nil {
			logger.Warn("server shutdown",
				log.Err(err),
			)
		}
	}()

	logger.Info("serving relay API",
		log.String("address", listener.Addr().String()),
	)
	err = srv.Dispatch()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	if closeErr := db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
