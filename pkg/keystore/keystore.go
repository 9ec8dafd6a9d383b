// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keystore holds the password protected private keys of local
// transaction signers.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/crypto"
)

// ErrInvalidPassword is returned when a key can not be decrypted with the
// given password.
var ErrInvalidPassword = errors.New("invalid password")

// Service stores signer keys by name.
type Service interface {
	// Key decrypts the key stored under name. A missing key is generated,
	// stored encrypted with password and reported with created set.
	Key(name, password string) (k *ecdsa.PrivateKey, created bool, err error)
	// Exists reports whether a key is stored under name.
	Exists(name string) (bool, error)
}

// Unlocked is a signer opened from a Service.
type Unlocked struct {
	Name    string
	Address common.Address
	Created bool
	Signer  crypto.Signer
}

// Unlock opens the keys of names with password. Missing keys are created
// with the same password.
func Unlock(s Service, password string, names ...string) ([]Unlocked, error) {
	unlocked := make([]Unlocked, 0, len(names))
	for _, name := range names {
		pk, created, err := s.Key(name, password)
		if err != nil {
			return nil, fmt.Errorf("signer key %s: %w", name, err)
		}
		signer := crypto.NewDefaultSigner(pk)
		address, err := signer.EthereumAddress()
		if err != nil {
			return nil, fmt.Errorf("signer key %s: %w", name, err)
		}
		unlocked = append(unlocked, Unlocked{
			Name:    name,
			Address: address,
			Created: created,
			Signer:  signer,
		})
	}
	return unlocked, nil
}

// AllExist reports whether every key of names is stored.
func AllExist(s Service, names ...string) (bool, error) {
	for _, name := range names {
		exists, err := s.Exists(name)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}
