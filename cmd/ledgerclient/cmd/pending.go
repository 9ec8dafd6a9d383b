// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/spf13/cobra"
)

func (c *command) initPendingCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List stored transactions that are not yet final",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			verbosity := c.config.GetString(optionNameVerbosity)
			if !cmd.Flags().Changed(optionNameVerbosity) && !c.config.IsSet(optionNameVerbosity) {
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

			d := n.Dispatcher()
			hashes, err := d.PendingTransactions()
			if err != nil {
				return err
			}
			if len(hashes) == 0 {
				cmd.Println("no pending transactions")
				return nil
			}

			for _, hash := range hashes {
				tx, err := d.StoredTransaction(hash)
				if err != nil {
					return err
				}
				line := hash.Hex()
				r, err := d.StoredRequest(hash)
				switch {
				case err == nil:
					line += fmt.Sprintf(" %s %s", r.CorrelationID, r.Method)
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}
				if tx.Nonce != nil {
					line += fmt.Sprintf(" nonce %d", *tx.Nonce)
				}
				if tx.NodeSigned {
					line += " node-signed"
				}
				cmd.Printf("%s created %s\n", line, time.Unix(tx.Created, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)

	c.root.AddCommand(cmd)
	return nil
}
