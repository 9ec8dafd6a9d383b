// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import "fmt"

// ErrInvalidName denotes a value that is neither a hex address nor a name
// that can be resolved.
type ErrInvalidName string

// Error returns the formatted invalid name error.
func (e ErrInvalidName) Error() string {
	return fmt.Sprintf("cannot resolve %q to an address", string(e))
}
