// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ens

import "errors"

// ErrUnregistered denotes a name that resolves to the zero address.
var ErrUnregistered = errors.New("name not registered")
