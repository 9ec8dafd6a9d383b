// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bigint provides a big.Int that encodes to JSON as a decimal string,
// so that wei amounts survive clients that parse numbers as float64.
package bigint

import (
	"encoding/json"
	"fmt"
	"math/big"
)

type BigInt struct {
	big.Int
}

func (i BigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, i.String())), nil
}

// UnmarshalJSON accepts both a quoted decimal string and a bare JSON number.
func (i *BigInt) UnmarshalJSON(b []byte) error {
	var val string
	if err := json.Unmarshal(b, &val); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		val = n.String()
	}

	if _, ok := i.SetString(val, 10); !ok {
		return fmt.Errorf("bigint: invalid value %q", val)
	}

	return nil
}

func NewBigInt(x int64) *BigInt {
	b := new(BigInt)
	b.SetInt64(x)
	return b
}

// Wrap returns nil for a nil value.
func Wrap(i *big.Int) *BigInt {
	if i == nil {
		return nil
	}
	return &BigInt{*i}
}

// Unwrap returns the underlying value, or nil for a nil BigInt.
func (i *BigInt) Unwrap() *big.Int {
	if i == nil {
		return nil
	}
	return &i.Int
}
