// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethersphere/ledgerclient"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/node"
	"github.com/spf13/cobra"
)

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ledger client API",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, err := newLogger(cmd, c.config.GetString(optionNameVerbosity))
			if err != nil {
				return err
			}

			logger.Infof("version: %v", ledgerclient.Version)

			n, err := c.newNode(cmd, logger, c.config.GetString(optionNameAPIAddr))
			if err != nil {
				return err
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			// Shutdown
			done := make(chan struct{})
			go func() {
				defer close(done)

				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()

				if err := n.Shutdown(ctx); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-done:
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	cmd.Flags().String(optionNameAPIAddr, ":1733", "HTTP API listen address")
	cmd.Flags().StringSlice(optionCORSAllowedOrigins, []string{}, "origins with CORS headers enabled")

	c.root.AddCommand(cmd)
	return nil
}

// newNode unlocks the signer keys and starts a node. The API is served only
// if apiAddr is set.
func (c *command) newNode(cmd *cobra.Command, logger logging.Logger, apiAddr string) (*node.Node, error) {
	signers, err := c.signers(cmd, logger, c.keystoreService(logger))
	if err != nil {
		return nil, err
	}

	o, err := c.nodeOptions()
	if err != nil {
		return nil, err
	}
	o.APIAddr = apiAddr

	n, err := node.NewNode(logger, signers, o)
	if err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return n, nil
}
