package entity

import (
	"encoding/binary"
	"net"

	"github.com/ctdsync/core/hashkey"
)

// L4Proto is the fixed attribute set's L4 protocol field (spec §6).
type L4Proto uint8

const (
	ProtoTCP  L4Proto = 6
	ProtoUDP  L4Proto = 17
	ProtoICMP L4Proto = 1
)

// Tuple is one directional 5-tuple (+conntrack zone) of a connection.
type Tuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Proto    L4Proto
	Zone     uint16
}

// Bytes produces the canonical encoding hashkey.Sum derives a hash_key
// from. IPs are normalized to their 16-byte form so a 4-in-6 and a bare
// v4 address never collide or diverge.
func (t Tuple) Bytes() []byte {
	b := make([]byte, 0, 16+16+2+2+1+2)
	b = append(b, t.SrcIP.To16()...)
	b = append(b, t.DstIP.To16()...)
	b = binary.BigEndian.AppendUint16(b, t.SrcPort)
	b = binary.BigEndian.AppendUint16(b, t.DstPort)
	b = append(b, byte(t.Proto))
	b = binary.BigEndian.AppendUint16(b, t.Zone)
	return b
}

// HashKey derives a stable hash_key for the tuple. Used directly by
// expectation master lookups, which key on the master ct's original
// tuple the same way the ct entry itself does.
func (t Tuple) HashKey() uint64 {
	return hashkey.Sum(t.Bytes())
}

// ClashKey derives an independent second digest of the tuple via
// hashkey.Fallback. store.CacheStore.ClashesWith compares this across
// stores to tell a genuine hash_key collision between two distinct
// payloads apart from the same payload legitimately present in two
// stores (spec §4.1's cross-store uniqueness invariant).
func (t Tuple) ClashKey() uint64 {
	return hashkey.Fallback(t.Bytes())
}

// CTPayload is the ct entity descriptor. Orig is used as the keying
// tuple (conntrack entries are keyed on the original-direction tuple);
// Reply is carried for completeness and for dump/commit.
type CTPayload struct {
	Orig  Tuple
	Reply Tuple

	Proto L4Proto

	TCPState    uint8
	TCPStateSet bool

	Timeout    uint32
	TimeoutSet bool

	CounterOrigBytes    uint64
	CounterOrigPackets  uint64
	CounterReplBytes    uint64
	CounterReplPackets  uint64
	CountersSet         bool
}

// HashKey implements Payload.
func (p *CTPayload) HashKey() uint64 {
	return p.Orig.HashKey()
}

// ClashKey implements store's optional clashKeyer interface.
func (p *CTPayload) ClashKey() uint64 {
	return p.Orig.ClashKey()
}

// ExpPayload is the exp (expectation) entity descriptor: a pending
// related-flow reservation tied to a master ct.
type ExpPayload struct {
	Tuple  Tuple
	Master Tuple

	Timeout    uint32
	TimeoutSet bool
}

// HashKey implements Payload.
func (p *ExpPayload) HashKey() uint64 {
	return p.Tuple.HashKey()
}

// ClashKey implements store's optional clashKeyer interface.
func (p *ExpPayload) ClashKey() uint64 {
	return p.Tuple.ClashKey()
}
