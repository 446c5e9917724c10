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

import "errors"

var (
	// ErrConnect is returned when Connect exhausts its attempts.
	ErrConnect = errors.New("transport: could not connect")

	// ErrFrameTooLarge is returned by Recv for a frame longer than the
	// caller's limit. The connection cannot be used afterwards.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrClosed is returned after a listener or connection is closed.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidParameters is returned for a bad address, port or retry count.
	ErrInvalidParameters = errors.New("transport: invalid parameters")

	// ErrRateLimited is returned when the server refused a request.
	ErrRateLimited = errors.New("transport: rate limited")

	// ErrRemote is returned for a server-side failure without a more
	// specific mapping.
	ErrRemote = errors.New("transport: remote error")

	// ErrProtocol is returned for a malformed or mismatched message.
	ErrProtocol = errors.New("transport: protocol error")
)
