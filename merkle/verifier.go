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

package merkle

import (
	"errors"

	"golang.org/x/crypto/sha3"

	"github.com/daemonprotocol/sip/common"
)

// MaxProofLength is the maximum supported tree depth
const MaxProofLength = 32

// internalNodeTag is prepended to the concatenated operands of every pair
// hash, preventing a leaf from being reinterpreted as an internal node
const internalNodeTag = byte(0x01)

// ErrEmptyProof indicates a zero-length sibling path
var ErrEmptyProof = errors.New("proof is empty")

// ErrProofTooLong indicates a sibling path exceeding the maximum tree depth
var ErrProofTooLong = errors.New("proof too long: maximum depth is 32")

// ValidateProof bounds-checks a sibling path prior to verification
func ValidateProof(proof []common.Digest) error {
	if len(proof) == 0 {
		return ErrEmptyProof
	}
	if len(proof) > MaxProofLength {
		return ErrProofTooLong
	}
	return nil
}

// Verify recomputes the root bottom-up from the given leaf and ordered
// sibling path; the bit of index consumed at each level selects whether the
// current node is a left or right child
func Verify(leaf common.Digest, proof []common.Digest, index uint64, root common.Digest) bool {
	computed := leaf

	for _, sibling := range proof {
		if index&1 == 1 {
			computed = HashPair(sibling, computed)
		} else {
			computed = HashPair(computed, sibling)
		}
		index >>= 1
	}

	return computed == root
}

// HashPair hashes two nodes together with domain separation; matches the
// off-chain tree builder's internal node rule: keccak256(0x01 ‖ left ‖ right)
func HashPair(left, right common.Digest) common.Digest {
	var data [65]byte
	data[0] = internalNodeTag
	copy(data[1:33], left[:])
	copy(data[33:65], right[:])

	var digest common.Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(data[:])
	copy(digest[:], h.Sum(nil))
	return digest
}
