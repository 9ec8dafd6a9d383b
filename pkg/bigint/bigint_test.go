// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bigint_test

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/bigint"
)

func TestMarshaling(t *testing.T) {
	mar, err := json.Marshal(struct {
		Bg *bigint.BigInt
	}{
		Bg: bigint.Wrap(new(big.Int).Mul(big.NewInt(math.MaxInt64), big.NewInt(math.MaxInt64))),
	})
	if err != nil {
		t.Errorf("Marshaling failed: %v", err)
	}
	if !reflect.DeepEqual(mar, []byte("{\"Bg\":\"85070591730234615847396907784232501249\"}")) {
		t.Errorf("Wrongly marshaled data")
	}
}

func TestUnmarshaling(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		want  int64
		fail  bool
	}{
		{name: "string", input: `{"Bg":"1000000000"}`, want: 1000000000},
		{name: "number", input: `{"Bg":21000}`, want: 21000},
		{name: "invalid", input: `{"Bg":"ten"}`, fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var v struct {
				Bg *bigint.BigInt
			}
			err := json.Unmarshal([]byte(tc.input), &v)
			if tc.fail {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if v.Bg.Unwrap().Int64() != tc.want {
				t.Fatalf("got %s, want %d", v.Bg.String(), tc.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if bigint.Wrap(nil) != nil {
		t.Fatal("expected nil")
	}
	var b *bigint.BigInt
	if b.Unwrap() != nil {
		t.Fatal("expected nil")
	}
}
