/*
 * Copyright 2023-2024 Daemon Protocol Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Address is an opaque 32-byte identity; the zero value is reserved and never
// represents a real participant
type Address [32]byte

// Digest is an opaque 32-byte value (merkle root, commitment or nullifier)
type Digest [32]byte

// ZeroAddress is the reserved default identity
var ZeroAddress Address

// ZeroDigest is the all-zero digest, used to represent "unset"
var ZeroDigest Digest

// IsZero returns true if the address is the reserved default identity
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalJSON renders the address as a hex string
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses a hex-encoded address
func (a *Address) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	addr, err := AddressFromHex(str)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// AddressFromHex parses a 32-byte address from its hex representation
func AddressFromHex(str string) (Address, error) {
	var a Address
	buf, err := hex.DecodeString(str)
	if err != nil {
		return a, fmt.Errorf("failed to parse address; %s", err.Error())
	}
	if len(buf) != len(a) {
		return a, fmt.Errorf("failed to parse address; expected %d bytes, received %d", len(a), len(buf))
	}
	copy(a[:], buf)
	return a, nil
}

// IsZero returns true if the digest is all-zero bytes
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON renders the digest as a hex string
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a hex-encoded digest
func (d *Digest) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	digest, err := DigestFromHex(str)
	if err != nil {
		return err
	}
	*d = digest
	return nil
}

// DigestFromHex parses a 32-byte digest from its hex representation
func DigestFromHex(str string) (Digest, error) {
	var d Digest
	buf, err := hex.DecodeString(str)
	if err != nil {
		return d, fmt.Errorf("failed to parse digest; %s", err.Error())
	}
	if len(buf) != len(d) {
		return d, fmt.Errorf("failed to parse digest; expected %d bytes, received %d", len(d), len(buf))
	}
	copy(d[:], buf)
	return d, nil
}
