// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func (c *command) initPrintConfigCmd() {
	cmd := &cobra.Command{
		Use:   "printconfig",
		Short: "Print the effective configuration in YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := c.config.AllKeys()
			config := make(map[string]interface{}, len(keys))
			for _, k := range keys {
				if k == optionNamePassword {
					continue
				}
				config[k] = c.config.Get(k)
			}

			out, err := yaml.Marshal(config)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
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
}
