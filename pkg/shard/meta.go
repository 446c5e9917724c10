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

package shard

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Shard file framing. Every shard starts with a fixed little-endian metadata
// block followed by its payload:
//
//	offset size field
//	0      4    magic "SHRD"
//	4      1    layout version
//	5      1    flags
//	6      2    index
//	8      2    data shards
//	10     2    parity shards
//	12     2    key threshold
//	14     2    reserved, zero
//	16     8    logical size
//	24     16   salt
//	40     8    key share x
//	48     40   key share y, one u64 per limb
//	88     ...  payload
const (
	// MetaLen is the size of the metadata block.
	MetaLen = 88

	// SaltLen is the length of the per-group salt.
	SaltLen = 16

	// KeyLimbs is the number of key share limbs carried in the metadata.
	KeyLimbs = 5

	// Version is the current layout version.
	Version = 1

	// Suffix ends every shard key.
	Suffix = ".shard"
)

// Flag bits
const (
	// FlagEncrypted marks an encrypted payload.
	FlagEncrypted uint8 = 1 << iota
	// FlagChaCha selects ChaCha20-Poly1305 instead of AES-256-GCM.
	FlagChaCha
)

var magic = [4]byte{'S', 'H', 'R', 'D'}

// Meta is the metadata block of a shard file. All shards of a group carry
// the same values except Index and the key share.
type Meta struct {
	Flags     uint8
	Index     uint16
	Data      uint16
	Parity    uint16
	Threshold uint16
	Size      uint64
	Salt      [SaltLen]byte
	ShareX    uint64
	ShareY    [KeyLimbs]uint64
}

// Encrypted reports whether the payload is sealed.
func (m Meta) Encrypted() bool {
	return m.Flags&FlagEncrypted != 0
}

// Total is the number of shards in the group.
func (m Meta) Total() int {
	return int(m.Data) + int(m.Parity)
}

// Encode frames payload behind the metadata block.
func (m Meta) Encode(payload []byte) []byte {
	buf := make([]byte, MetaLen+len(payload))
	copy(buf[0:4], magic[:])
	buf[4] = Version
	buf[5] = m.Flags
	binary.LittleEndian.PutUint16(buf[6:], m.Index)
	binary.LittleEndian.PutUint16(buf[8:], m.Data)
	binary.LittleEndian.PutUint16(buf[10:], m.Parity)
	binary.LittleEndian.PutUint16(buf[12:], m.Threshold)
	binary.LittleEndian.PutUint64(buf[16:], m.Size)
	copy(buf[24:40], m.Salt[:])
	binary.LittleEndian.PutUint64(buf[40:], m.ShareX)
	for i, y := range m.ShareY {
		binary.LittleEndian.PutUint64(buf[48+8*i:], y)
	}
	copy(buf[MetaLen:], payload)
	return buf
}

// Decode parses a shard file into its metadata and payload. The payload
// aliases file.
func Decode(file []byte) (Meta, []byte, error) {
	var m Meta
	if len(file) < MetaLen {
		return m, nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte metadata block",
			ErrCorruptShard, len(file), MetaLen)
	}
	if [4]byte(file[0:4]) != magic {
		return m, nil, fmt.Errorf("%w: bad magic %q", ErrCorruptShard, file[0:4])
	}
	if file[4] != Version {
		return m, nil, fmt.Errorf("%w: unsupported layout version %d", ErrCorruptShard, file[4])
	}

	m.Flags = file[5]
	m.Index = binary.LittleEndian.Uint16(file[6:])
	m.Data = binary.LittleEndian.Uint16(file[8:])
	m.Parity = binary.LittleEndian.Uint16(file[10:])
	m.Threshold = binary.LittleEndian.Uint16(file[12:])
	m.Size = binary.LittleEndian.Uint64(file[16:])
	copy(m.Salt[:], file[24:40])
	m.ShareX = binary.LittleEndian.Uint64(file[40:])
	for i := range m.ShareY {
		m.ShareY[i] = binary.LittleEndian.Uint64(file[48+8*i:])
	}

	if m.Data == 0 || int(m.Index) >= m.Total() {
		return m, nil, fmt.Errorf("%w: index %d outside group of %d+%d",
			ErrCorruptShard, m.Index, m.Data, m.Parity)
	}
	return m, file[MetaLen:], nil
}

// Name returns the storage key of shard index in group id.
func Name(id string, index int) string {
	return fmt.Sprintf("%s-%04d%s", id, index, Suffix)
}

// GroupPrefix is the key prefix shared by every shard of group id.
func GroupPrefix(id string) string {
	return id + "-"
}

// ParseName splits a shard key into its group id and index.
func ParseName(name string) (string, int, bool) {
	base, ok := strings.CutSuffix(name, Suffix)
	if !ok {
		return "", 0, false
	}
	dash := strings.LastIndexByte(base, '-')
	if dash <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(base[dash+1:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return base[:dash], index, true
}
