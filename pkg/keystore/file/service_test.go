// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/keystore/file"
	"github.com/ethersphere/ledgerclient/pkg/keystore/test"
	"github.com/spf13/afero"
)

func TestService(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		test.Service(t, file.NewLight(afero.NewMemMapFs(), "/keys"))
	})

	t.Run("disk", func(t *testing.T) {
		test.Service(t, file.NewLight(afero.NewOsFs(), t.TempDir()))
	})
}

func TestServiceKeyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join("data", "keys")

	if _, _, err := file.NewLight(fs, dir).Key("signer", "pass123456"); err != nil {
		t.Fatal(err)
	}

	info, err := fs.Stat(filepath.Join(dir, "signer.key"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("got key file mode %v, want %v", perm, os.FileMode(0600))
	}

	// a second service over the same files sees the key
	exists, err := file.NewLight(fs, dir).Exists("signer")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("key not found by another service")
	}
}
