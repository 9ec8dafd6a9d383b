// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package wrapped

import "golang.org/x/sys/unix"

// Errors of the operating system when nothing listens on the node endpoint
// or there is no route to it.
var unreachableErrors = []error{
	unix.ECONNREFUSED,
	unix.EHOSTUNREACH,
	unix.ENETUNREACH,
}
