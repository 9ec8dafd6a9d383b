// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"io"

	"github.com/spf13/afero"
)

type (
	Command        = command
	Option         = option
	PasswordReader = passwordReader
)

var (
	NewCommand = newCommand
	AwaitSend  = awaitSend
	AwaitCall  = awaitCall

	ErrTransactionFailed = errTransactionFailed
	ErrCallFailed        = errCallFailed
	ErrStreamClosed      = errStreamClosed
	ErrPasswordMismatch  = errPasswordMismatch
)

func WithHomeDir(dir string) func(c *Command) {
	return func(c *Command) {
		c.homeDir = dir
	}
}

func WithArgs(a ...string) func(c *Command) {
	return func(c *Command) {
		c.root.SetArgs(a)
	}
}

func WithInput(r io.Reader) func(c *Command) {
	return func(c *Command) {
		c.root.SetIn(r)
	}
}

func WithOutput(w io.Writer) func(c *Command) {
	return func(c *Command) {
		c.root.SetOut(w)
	}
}

func WithPasswordReader(r PasswordReader) func(c *Command) {
	return func(c *Command) {
		c.passwordReader = r
	}
}

func WithFs(fs afero.Fs) func(c *Command) {
	return func(c *Command) {
		c.fs = fs
	}
}
