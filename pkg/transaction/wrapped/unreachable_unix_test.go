// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package wrapped_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/transaction/wrapped"
	"golang.org/x/sys/unix"
)

func TestIsUnreachable(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", unix.ECONNREFUSED)},
			want: true,
		},
		{
			name: "no route",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", unix.EHOSTUNREACH)},
			want: true,
		},
		{
			name: "network down",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", unix.ENETUNREACH)},
			want: true,
		},
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
		},
		{
			name: "rpc error",
			err:  errors.New("nonce too low"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := wrapped.IsUnreachable(tc.err); got != tc.want {
				t.Fatalf("got %t, want %t", got, tc.want)
			}
		})
	}
}

func TestDialRefused(t *testing.T) {
	// a socket file nothing listens on
	path := filepath.Join(t.TempDir(), "node.ipc")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	l.SetUnlinkOnClose(false)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = wrapped.Dial(context.Background(), path)
	if !errors.Is(err, wrapped.ErrUnreachable) {
		t.Fatalf("got error %v, want %v", err, wrapped.ErrUnreachable)
	}
}
