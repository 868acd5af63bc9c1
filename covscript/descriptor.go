package covscript

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/lightningnetwork/lnd/tlv"
)

// DescriptorType is a TLV type of a covenant descriptor record.
type DescriptorType = tlv.Type

const (
	DescriptorNetwork     DescriptorType = 0
	DescriptorInternalKey DescriptorType = 2
	DescriptorOutputIndex DescriptorType = 4
	DescriptorPrefix      DescriptorType = 6
	DescriptorTail        DescriptorType = 8
)

// Descriptor is the persisted form of a covenant: everything needed to
// rebuild its scripts and spend it.
type Descriptor struct {
	// Network is the name of the chain the covenant lives on.
	Network string

	// InternalKey is the x-only internal key.
	InternalKey [32]byte

	// OutputIndex is the output index the covenant recreates itself at.
	OutputIndex uint32

	// Prefix is the serialized prefix script.
	Prefix []byte

	// Tail is the serialized recursive tail.
	Tail []byte
}

// NewDescriptor returns the descriptor of a covenant on a network.
func NewDescriptor(c *Covenant, network string) *Descriptor {
	d := &Descriptor{
		Network:     network,
		OutputIndex: c.OutputIndex,
		Prefix:      c.Prefix.Bytes(),
		Tail:        c.Tail.Bytes(),
	}
	copy(d.InternalKey[:], schnorr.SerializePubKey(c.InternalKey))

	return d
}

// Covenant rebuilds the covenant the descriptor describes.
func (d *Descriptor) Covenant() (*Covenant, error) {
	internalKey, err := schnorr.ParsePubKey(d.InternalKey[:])
	if err != nil {
		return nil, newErrInner(ErrInvalidConfig, err)
	}

	return FromScripts(internalKey, d.OutputIndex, d.Prefix, d.Tail)
}

// EncodeRecords returns the TLV records of the descriptor.
func (d *Descriptor) EncodeRecords() []tlv.Record {
	network := []byte(d.Network)
	return []tlv.Record{
		tlv.MakePrimitiveRecord(DescriptorNetwork, &network),
		tlv.MakePrimitiveRecord(DescriptorInternalKey, &d.InternalKey),
		tlv.MakePrimitiveRecord(DescriptorOutputIndex, &d.OutputIndex),
		tlv.MakePrimitiveRecord(DescriptorPrefix, &d.Prefix),
		tlv.MakePrimitiveRecord(DescriptorTail, &d.Tail),
	}
}

// Encode encodes the descriptor into a TLV stream.
func (d *Descriptor) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(d.EncodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode decodes a descriptor from a TLV stream.
func (d *Descriptor) Decode(r io.Reader) error {
	var network []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(DescriptorNetwork, &network),
		tlv.MakePrimitiveRecord(DescriptorInternalKey, &d.InternalKey),
		tlv.MakePrimitiveRecord(DescriptorOutputIndex, &d.OutputIndex),
		tlv.MakePrimitiveRecord(DescriptorPrefix, &d.Prefix),
		tlv.MakePrimitiveRecord(DescriptorTail, &d.Tail),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return newErrInner(ErrMalformedDescriptor, err)
	}
	d.Network = string(network)

	return nil
}

// Bytes returns the encoded descriptor.
func (d *Descriptor) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := d.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeDescriptor decodes an encoded descriptor.
func DecodeDescriptor(b []byte) (*Descriptor, error) {
	var d Descriptor
	if err := d.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &d, nil
}
