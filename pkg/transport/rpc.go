// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package transport

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-shardfs/pkg/metrics"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// Op is a remote storage operation.
type Op uint8

// Operations mirror storage.Backend.
const (
	OpGet Op = iota + 1
	OpPut
	OpDelete
	OpList
	OpExists
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return metrics.OpGet
	case OpPut:
		return metrics.OpPut
	case OpDelete:
		return metrics.OpDelete
	case OpList:
		return metrics.OpList
	case OpExists:
		return metrics.OpExists
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Code classifies a response.
type Code uint8

// Response codes
const (
	CodeOK Code = iota
	CodeNotFound
	CodeInvalidKey
	CodeClosed
	CodeRateLimited
	CodeBadRequest
	CodeInternal
)

// Request is one storage call.
type Request struct {
	ID     string `cbor:"1,keyasint"`
	Op     Op     `cbor:"2,keyasint"`
	Key    string `cbor:"3,keyasint,omitempty"`
	Prefix string `cbor:"4,keyasint,omitempty"`
	Value  []byte `cbor:"5,keyasint,omitempty"`
	Perm   uint32 `cbor:"6,keyasint,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     string   `cbor:"1,keyasint"`
	Code   Code     `cbor:"2,keyasint"`
	Err    string   `cbor:"3,keyasint,omitempty"`
	Value  []byte   `cbor:"4,keyasint,omitempty"`
	Keys   []string `cbor:"5,keyasint,omitempty"`
	Exists bool     `cbor:"6,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrProtocol, err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProtocol, err)
	}
	return nil
}

// codeFor maps a backend error to a response code.
func codeFor(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		return CodeInvalidKey
	case errors.Is(err, storage.ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrProtocol):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// err rebuilds the error carried by a response.
func (r *Response) err() error {
	switch r.Code {
	case CodeOK:
		return nil
	case CodeNotFound:
		return storage.ErrNotFound
	case CodeInvalidKey:
		return storage.ErrInvalidKey
	case CodeClosed:
		return storage.ErrClosed
	case CodeRateLimited:
		return ErrRateLimited
	case CodeBadRequest:
		return fmt.Errorf("%w: %s", ErrProtocol, r.Err)
	default:
		return fmt.Errorf("%w: %s", ErrRemote, r.Err)
	}
}
