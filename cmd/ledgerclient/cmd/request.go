// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	optionNameRequest = "request"
	optionNameTimeout = "timeout"
)

var (
	errTransactionFailed = errors.New("transaction failed")
	errCallFailed        = errors.New("call failed")
	errStreamClosed      = errors.New("event stream closed")
)

func (c *command) initSendCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a transaction and follow it until it is final",
		Long: `Reads a send request in JSON from the request file or standard input,
submits it and prints every lifecycle event of the transaction as a JSON line.
The command returns once the transaction is confirmed or failed for good.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var r dispatcher.SendRequest
			if err := c.readRequest(cmd, &r); err != nil {
				return err
			}
			if r.CorrelationID == "" {
				r.CorrelationID = uuid.NewString()
			}

			return c.submit(cmd, func(ctx context.Context, d *dispatcher.Dispatcher, events <-chan event.Event, sub event.Subscription) error {
				if _, err := d.SubmitSend(ctx, r); err != nil {
					return err
				}
				return awaitSend(ctx, events, sub.Err(), r.CorrelationID, json.NewEncoder(cmd.OutOrStdout()))
			})
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	cmd.Flags().String(optionNameRequest, "-", "path to the JSON request, - reads standard input")
	cmd.Flags().Duration(optionNameTimeout, 0, "give up waiting after this duration, 0 waits until the transaction is final")

	c.root.AddCommand(cmd)
	return nil
}

func (c *command) initCallCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a read only contract method",
		Long: `Reads a call request in JSON from the request file or standard input
and prints the call result event as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var r dispatcher.CallRequest
			if err := c.readRequest(cmd, &r); err != nil {
				return err
			}
			if r.CorrelationID == "" {
				r.CorrelationID = uuid.NewString()
			}

			return c.submit(cmd, func(ctx context.Context, d *dispatcher.Dispatcher, events <-chan event.Event, sub event.Subscription) error {
				if _, err := d.SubmitCall(ctx, r); err != nil {
					return err
				}
				return awaitCall(ctx, events, sub.Err(), r.CorrelationID, json.NewEncoder(cmd.OutOrStdout()))
			})
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	cmd.Flags().String(optionNameRequest, "-", "path to the JSON request, - reads standard input")
	cmd.Flags().Duration(optionNameTimeout, time.Minute, "give up waiting for the result after this duration")

	c.root.AddCommand(cmd)
	return nil
}

func (c *command) readRequest(cmd *cobra.Command, v interface{}) error {
	var r io.Reader
	switch path := c.config.GetString(optionNameRequest); path {
	case "", "-":
		r = cmd.InOrStdin()
	default:
		f, err := c.fs.Open(path)
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

type submitFunc func(ctx context.Context, d *dispatcher.Dispatcher, events <-chan event.Event, sub event.Subscription) error

// submit starts a node without the API, subscribes to its events and runs
// f until it returns, the timeout passes or the process is interrupted.
func (c *command) submit(cmd *cobra.Command, f submitFunc) (err error) {
	verbosity := c.config.GetString(optionNameVerbosity)
	if !cmd.Flags().Changed(optionNameVerbosity) && !c.config.IsSet(optionNameVerbosity) {
		// stdout carries the events
		verbosity = "silent"
	}
	logger, err := newLogger(cmd, verbosity)
	if err != nil {
		return err
	}

	n, err := c.newNode(cmd, logger, "")
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if e := n.Shutdown(ctx); e != nil && err == nil {
			err = e
		}
	}()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := c.config.GetDuration(optionNameTimeout); timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interruptChannel)
	go func() {
		select {
		case <-interruptChannel:
			cancel()
		case <-ctx.Done():
		}
	}()

	events := make(chan event.Event, 64)
	sub := n.Dispatcher().Subscribe(events)
	defer sub.Unsubscribe()

	return f(ctx, n.Dispatcher(), events, sub)
}

type eventEncoder interface {
	Encode(v interface{}) error
}

// awaitSend writes the events of the send with the correlation id to enc
// until one of them ends its lifecycle. An error that is followed by a
// resubmission does not end it.
func awaitSend(ctx context.Context, events <-chan event.Event, closed <-chan error, correlationID string, enc eventEncoder) error {
	for {
		select {
		case e := <-events:
			if e.CorrelationID != correlationID || e.Kind == event.CallResult {
				continue
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
			if !e.Kind.Terminal() || e.Retrying {
				continue
			}
			if e.Err != nil {
				return fmt.Errorf("%w: %v", errTransactionFailed, e.Err)
			}
			return nil
		case err := <-closed:
			return streamClosed(err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func streamClosed(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", errStreamClosed, err)
	}
	return errStreamClosed
}

// awaitCall writes the result of the call with the correlation id to enc.
func awaitCall(ctx context.Context, events <-chan event.Event, closed <-chan error, correlationID string, enc eventEncoder) error {
	for {
		select {
		case e := <-events:
			if e.CorrelationID != correlationID || e.Kind != event.CallResult {
				continue
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
			if e.Err != nil {
				return fmt.Errorf("%w: %v", errCallFailed, e.Err)
			}
			return nil
		case err := <-closed:
			return streamClosed(err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
