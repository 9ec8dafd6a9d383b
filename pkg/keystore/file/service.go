// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package file

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/keystore"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var _ keystore.Service = (*Service)(nil)

// Service keeps every signer key in its own file <dir>/<name>.key in the
// ethereum v3 keystore format.
type Service struct {
	fs      afero.Fs
	dir     string
	scryptN int
	scryptP int
}

// New returns a keystore in dir on fs.
func New(fs afero.Fs, dir string) *Service {
	return &Service{
		fs:      fs,
		dir:     dir,
		scryptN: gethkeystore.StandardScryptN,
		scryptP: gethkeystore.StandardScryptP,
	}
}

// NewLight returns a keystore with cheaper key derivation.
func NewLight(fs afero.Fs, dir string) *Service {
	s := New(fs, dir)
	s.scryptN = gethkeystore.LightScryptN
	s.scryptP = gethkeystore.LightScryptP
	return s
}

func (s *Service) Exists(name string) (bool, error) {
	data, err := s.read(name)
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

func (s *Service) Key(name, password string) (pk *ecdsa.PrivateKey, created bool, err error) {
	data, err := s.read(name)
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		var err error
		pk, err = crypto.GenerateSecp256k1Key()
		if err != nil {
			return nil, false, fmt.Errorf("generate secp256k1 key: %w", err)
		}

		d, err := s.encryptKey(pk, password)
		if err != nil {
			return nil, false, err
		}

		if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create keystore directory: %w", err)
		}
		if err := afero.WriteFile(s.fs, s.keyFilename(name), d, 0600); err != nil {
			return nil, false, fmt.Errorf("write private key: %w", err)
		}
		return pk, true, nil
	}

	pk, err = decryptKey(data, password)
	if err != nil {
		return nil, false, err
	}
	return pk, false, nil
}

// read returns the stored key of name, empty if there is none.
func (s *Service) read(name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.keyFilename(name))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}

func (s *Service) keyFilename(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.key", name))
}

func (s *Service) encryptKey(pk *ecdsa.PrivateKey, password string) ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("key id: %w", err)
	}
	address, err := crypto.EthereumAddress(pk.PublicKey)
	if err != nil {
		return nil, err
	}
	d, err := gethkeystore.EncryptKey(&gethkeystore.Key{
		Id:         id,
		Address:    address,
		PrivateKey: pk,
	}, password, s.scryptN, s.scryptP)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	return d, nil
}

func decryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	k, err := gethkeystore.DecryptKey(data, password)
	if err != nil {
		if errors.Is(err, gethkeystore.ErrDecrypt) {
			return nil, keystore.ErrInvalidPassword
		}
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	return k.PrivateKey, nil
}
