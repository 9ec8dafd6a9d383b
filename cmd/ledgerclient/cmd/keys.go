// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/keystore"
	filekeystore "github.com/ethersphere/ledgerclient/pkg/keystore/file"
	memkeystore "github.com/ethersphere/ledgerclient/pkg/keystore/mem"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var errPasswordMismatch = errors.New("passwords do not match")

// keystoreService returns the keystore under the data directory, or an
// in-memory one when no data directory is set.
func (c *command) keystoreService(logger logging.Logger) keystore.Service {
	dataDir := c.config.GetString(optionNameDataDir)
	if dataDir == "" {
		logger.Warning("using in-mem keystore, signer keys will not be persisted")
		return memkeystore.New()
	}
	return filekeystore.New(c.fs, filepath.Join(dataDir, "keys"))
}

// signers unlocks the signer keys named in the configuration. Keys that do
// not exist are created with the same password.
func (c *command) signers(cmd *cobra.Command, logger logging.Logger, ks keystore.Service) ([]crypto.Signer, error) {
	names := c.config.GetStringSlice(optionNameSignerKeys)
	if len(names) == 0 {
		logger.Info("no signer keys configured, transactions are signed by the node")
		return nil, nil
	}

	password, err := c.password(cmd, ks, names)
	if err != nil {
		return nil, err
	}

	unlocked, err := keystore.Unlock(ks, password, names...)
	if err != nil {
		return nil, err
	}

	signers := make([]crypto.Signer, 0, len(unlocked))
	for _, u := range unlocked {
		if u.Created {
			logger.Infof("new signer key %s created with address %s", u.Name, u.Address)
		} else {
			logger.Infof("using existing signer key %s with address %s", u.Name, u.Address)
		}
		signers = append(signers, u.Signer)
	}
	return signers, nil
}

func (c *command) password(cmd *cobra.Command, ks keystore.Service, names []string) (string, error) {
	if p := c.config.GetString(optionNamePassword); p != "" {
		return p, nil
	}
	if file := c.config.GetString(optionNamePasswordFile); file != "" {
		b, err := afero.ReadFile(c.fs, file)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	// prompt for a new password only if some key is missing
	allExist, err := keystore.AllExist(ks, names...)
	if err != nil {
		return "", err
	}
	if allExist {
		return terminalPromptPassword(cmd, c.passwordReader, "Password")
	}
	return terminalPromptCreatePassword(cmd, c.passwordReader)
}
