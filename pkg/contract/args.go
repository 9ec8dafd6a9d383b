// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrUnsupportedType = errors.New("unsupported argument type")

// ParseArgs converts JSON values into the Go types the method inputs are
// packed from. Integers are accepted as JSON numbers or as decimal or 0x
// prefixed hex strings, byte values as 0x prefixed hex strings.
func ParseArgs(method abi.Method, raw []json.RawMessage) ([]interface{}, error) {
	if len(raw) != len(method.Inputs) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", method.Name, len(raw), len(method.Inputs))
	}

	args := make([]interface{}, len(raw))
	for i, input := range method.Inputs {
		v, err := parseValue(input.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d (%s): %w", method.Name, i, input.Type, err)
		}
		args[i] = v.Interface()
	}
	return args, nil
}

func parseValue(t abi.Type, raw json.RawMessage) (reflect.Value, error) {
	goType := t.GetType()

	switch t.T {
	case abi.IntTy, abi.UintTy:
		n, err := parseInteger(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return integerValue(goType, n, t.T == abi.UintTy)

	case abi.BoolTy:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.StringTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil

	case abi.AddressTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return reflect.Value{}, err
		}
		if !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", s)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.BytesTy:
		b, err := parseBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		b, err := parseBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) > t.Size {
			return reflect.Value{}, fmt.Errorf("got %d bytes, want at most %d", len(b), t.Size)
		}
		v := reflect.New(goType).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v, nil

	case abi.SliceTy, abi.ArrayTy:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return reflect.Value{}, err
		}
		var v reflect.Value
		if t.T == abi.SliceTy {
			v = reflect.MakeSlice(goType, len(elems), len(elems))
		} else {
			if len(elems) != t.Size {
				return reflect.Value{}, fmt.Errorf("got %d elements, want %d", len(elems), t.Size)
			}
			v = reflect.New(goType).Elem()
		}
		for i, e := range elems {
			ev, err := parseValue(*t.Elem, e)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil
	}

	return reflect.Value{}, ErrUnsupportedType
}

func parseInteger(raw json.RawMessage) (*big.Int, error) {
	var s string
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		s = n.String()
	}

	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func integerValue(goType reflect.Type, n *big.Int, unsigned bool) (reflect.Value, error) {
	if unsigned && n.Sign() < 0 {
		return reflect.Value{}, fmt.Errorf("negative value %s for unsigned integer", n)
	}

	v := reflect.New(goType).Elem()
	switch goType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !n.IsInt64() || v.OverflowInt(n.Int64()) {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, goType)
		}
		v.SetInt(n.Int64())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !n.IsUint64() || v.OverflowUint(n.Uint64()) {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, goType)
		}
		v.SetUint(n.Uint64())
	default:
		return reflect.ValueOf(n), nil
	}
	return v, nil
}

func parseBytes(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// FormatValues converts unpacked outputs into values that encode to JSON
// without loss. Big integers become decimal strings and byte values
// become 0x prefixed hex strings.
func FormatValues(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = formatValue(reflect.ValueOf(v))
	}
	return out
}

func formatValue(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}

	switch x := v.Interface().(type) {
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case []byte:
		return hexutil.Encode(x)
	}

	switch v.Kind() {
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return hexutil.Encode(b)
		}
		fallthrough
	case reflect.Slice:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = formatValue(v.Index(i))
		}
		return out
	case reflect.Struct:
		out := make(map[string]interface{}, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			if f := v.Type().Field(i); f.IsExported() {
				out[f.Name] = formatValue(v.Field(i))
			}
		}
		return out
	}

	return v.Interface()
}
