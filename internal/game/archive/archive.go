// Package archive provides the serialization context used when packing
// world state to the wire or restoring it. An Archive pairs a little-endian
// packet buffer with the purpose and replication policy the caller is
// serializing for; components consult both to decide which of their fields
// and children belong in the transcript.
package archive

import (
	"github.com/veldrin/server/internal/net/packet"
)

// Purpose says why the archive exists.
type Purpose int

const (
	PurposeReplication Purpose = iota // state sync to observing clients
	PurposePersistence                // durable storage
)

// Policy is the replication channel mask for replication-purpose archives.
type Policy uint8

const (
	PolicyProximity Policy = 1 << iota // observers whose interest area covers the entity
	PolicyParty                        // party members regardless of distance
	PolicyOwner                        // the controlling client itself

	PolicyAllChannels = PolicyProximity | PolicyParty | PolicyOwner
)

// Archive is either packing (writer set) or unpacking (reader set).
type Archive struct {
	purpose Purpose
	policy  Policy
	w       *packet.Writer
	r       *packet.Reader
}

// NewPacking creates an archive that serializes into a fresh buffer.
func NewPacking(purpose Purpose, policy Policy) *Archive {
	return &Archive{purpose: purpose, policy: policy, w: packet.NewWriter()}
}

// NewUnpacking creates an archive that deserializes from data. The payload
// is raw archive bytes, not an opcode-prefixed packet, so the reader is
// positioned at offset zero.
func NewUnpacking(purpose Purpose, policy Policy, data []byte) *Archive {
	r := packet.NewReader(append([]byte{0}, data...)) // synthetic opcode byte
	return &Archive{purpose: purpose, policy: policy, r: r}
}

func (a *Archive) Purpose() Purpose { return a.purpose }
func (a *Archive) Policy() Policy   { return a.policy }

func (a *Archive) IsPacking() bool     { return a.w != nil }
func (a *Archive) IsReplication() bool { return a.purpose == PurposeReplication }

// HasChannel reports whether the archive's policy includes the channel.
func (a *Archive) HasChannel(ch Policy) bool {
	return a.policy&ch != 0
}

// Writer returns the pack buffer. Valid only while packing.
func (a *Archive) Writer() *packet.Writer { return a.w }

// Reader returns the unpack buffer. Valid only while unpacking.
func (a *Archive) Reader() *packet.Reader { return a.r }

// Bytes returns the packed transcript without opcode padding.
func (a *Archive) Bytes() []byte {
	return a.w.RawBytes()
}
