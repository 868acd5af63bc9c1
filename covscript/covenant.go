package covscript

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/tapscript"
)

const (
	// maxHeadPasses bounds the search for the compact size of the full
	// script, which is embedded in the script itself.
	maxHeadPasses = 5

	// minBodySize is the smallest body whose size prefix is a data push
	// rather than a small integer opcode.
	minBodySize = 17
)

// CovenantConfig describes a recursive covenant.
type CovenantConfig struct {
	// InternalKey is the internal key of every generation's output. Its
	// holder can always leave the covenant through the key path.
	InternalKey *btcec.PublicKey

	// OutputIndex is the output of the spending transaction that must
	// recreate the covenant.
	OutputIndex uint32

	// Prefix runs before the recursive tail, e.g. a SignerCheck. It is
	// part of every generation's script.
	Prefix Script

	// Conditions run after the self verification.
	Conditions []Script
}

// Covenant is an assembled recursive covenant script.
//
// The tail has the layout
//
//	<B> B
//
// where B is
//
//	<L> <self verification> <conditions> OP_1
//
// and L is the push-data prefix of B. Executing B hashes the head (the
// compact size of the full script and the prefix) followed by L, B and B,
// which is the very leaf script the covenant output must commit to. B has
// to fit a single stack element.
type Covenant struct {
	// InternalKey is the internal key of the covenant outputs.
	InternalKey *btcec.PublicKey

	// OutputIndex is the output index the covenant recreates itself at.
	OutputIndex uint32

	// Prefix is the optional prefix script.
	Prefix Script

	// Head is compactSize(len(Full)) || Prefix, as embedded in the tail.
	Head []byte

	// Body is B, the self-referential part of the tail.
	Body Script

	// Tail is the recursive tail, <B> followed by B.
	Tail Script

	// Full is Prefix || Tail, the leaf script of every generation.
	Full Script
}

func compactSize(n uint64) []byte {
	var b bytes.Buffer
	_ = wire.WriteVarInt(&b, 0, n)
	return b.Bytes()
}

// NewCovenant assembles the covenant described by cfg.
func NewCovenant(cfg CovenantConfig) (*Covenant, error) {
	if cfg.InternalKey == nil {
		return nil, newErrf(ErrInvalidConfig, "missing internal key")
	}

	conditions := Concat(cfg.Conditions...)
	prefixBytes := cfg.Prefix.Bytes()

	// The head embeds the size of the full script, which depends on the
	// head. Start from a one byte guess and iterate until the size no
	// longer changes.
	var fullLen int
	for pass := 0; pass < maxHeadPasses; pass++ {
		head := append(compactSize(uint64(fullLen)), prefixBytes...)

		c, err := assemble(&cfg, head, conditions)
		if err != nil {
			return nil, err
		}

		if c.Full.Len() == fullLen {
			log.Debugf("Assembled covenant of %d bytes (tail %d "+
				"bytes) after %d passes", fullLen, c.Tail.Len(),
				pass+1)

			return c, nil
		}
		fullLen = c.Full.Len()
	}

	return nil, newErrf(ErrSizeNotSettled, "full script size did not "+
		"settle, last %d bytes", fullLen)
}

func assemble(cfg *CovenantConfig, head []byte,
	conditions Script) (*Covenant, error) {

	rest := Concat(
		SelfVerification(cfg.InternalKey, cfg.OutputIndex, head),
		conditions,
		NewScript(Op(txscript.OP_1)),
	)

	sizePrefix, err := NestedSizePrefix(uint64(rest.Len()))
	if err != nil {
		return nil, err
	}
	bodySize, _, err := DecodePushDataPrefix(sizePrefix)
	if err != nil {
		return nil, err
	}
	if bodySize < minBodySize {
		return nil, newErrf(ErrScriptTooSmall, "body of %d bytes",
			bodySize)
	}

	body := NewScript(Push(sizePrefix)).Append(rest.tokens...)
	bodyBytes := body.Bytes()
	if uint64(len(bodyBytes)) != bodySize {
		return nil, newErrf(ErrSizeNotSettled, "body is %d bytes, "+
			"prefix encodes %d", len(bodyBytes), bodySize)
	}

	// The push of the body must use exactly the prefix the body pushes
	// for itself, otherwise the rebuilt tail would differ.
	bodyPush := Push(bodyBytes)
	if !bytes.HasPrefix(bodyPush.Bytes(), sizePrefix) {
		return nil, newErrf(ErrSizeNotSettled, "body push prefix "+
			"mismatch")
	}

	tail := NewScript(bodyPush).Append(body.tokens...)
	full := Concat(cfg.Prefix, tail)

	if err := checkElementSizes(full, head, sizePrefix); err != nil {
		return nil, err
	}

	return &Covenant{
		InternalKey: cfg.InternalKey,
		OutputIndex: cfg.OutputIndex,
		Prefix:      cfg.Prefix,
		Head:        head,
		Body:        body,
		Tail:        tail,
		Full:        full,
	}, nil
}

// checkElementSizes makes sure no push of the full script, and no element
// the self verification builds, exceeds the element size limit.
func checkElementSizes(full Script, head, sizePrefix []byte) error {
	for _, tok := range full.tokens {
		if !tok.IsDataPush() {
			continue
		}
		if size := len(tok.StackValue()); size >
			txscript.MaxScriptElementSize {

			return newErrf(ErrElementTooLarge, "push of %d bytes",
				size)
		}
	}

	// The leaf hash preimage starts with the pinned head joined to the
	// size prefix of the body.
	start := len(leafHashHead(head)) + len(sizePrefix)
	if start > txscript.MaxScriptElementSize {
		return newErrf(ErrElementTooLarge, "leaf hash head of %d "+
			"bytes", start)
	}

	return nil
}

// Output derives the taproot output every generation of the covenant pays
// to.
func (c *Covenant) Output(
	params *address.ChainParams) (*tapscript.TaprootOutput, error) {

	return tapscript.Derive(c.InternalKey, c.Full.Bytes(), params)
}

// LeafHash returns the tapleaf hash of the covenant script, which is also
// the script root of its outputs.
func (c *Covenant) LeafHash() chainhash.Hash {
	return tapscript.LeafHash(c.Full.Bytes())
}

// ControlStack returns the control block of a script path spend.
func (c *Covenant) ControlStack() (*tapscript.ScriptPathStack, error) {
	return tapscript.ControlStack(c.InternalKey, c.Full.Bytes())
}

// WitnessArgs returns the script arguments of a script path spend: the
// parity byte of the recreated output's key, followed by the arguments the
// prefix consumes, top of stack last.
func (c *Covenant) WitnessArgs(nextOutputKey *btcec.PublicKey,
	prefixArgs ...[]byte) [][]byte {

	args := [][]byte{{tapscript.ParityByte(nextOutputKey)}}
	return append(args, prefixArgs...)
}

// RebuiltLeaf returns the leaf script with its compact size, as hashed by
// the self verification: the head followed by the tail.
func (c *Covenant) RebuiltLeaf() []byte {
	return append(append([]byte{}, c.Head...), c.Tail.Bytes()...)
}

// FromScripts rebuilds a covenant from a stored prefix and tail.
func FromScripts(internalKey *btcec.PublicKey, outputIndex uint32,
	prefix, tail []byte) (*Covenant, error) {

	prefixScript, err := ParseScript(prefix)
	if err != nil {
		return nil, err
	}
	tailScript, err := ParseScript(tail)
	if err != nil {
		return nil, err
	}
	if tailScript.NumTokens() < 2 {
		return nil, newErrf(ErrInvalidConfig, "tail too short")
	}

	full := Concat(prefixScript, tailScript)
	head := append(compactSize(uint64(full.Len())), prefix...)

	return &Covenant{
		InternalKey: internalKey,
		OutputIndex: outputIndex,
		Prefix:      prefixScript,
		Head:        head,
		Body:        NewScript(tailScript.tokens[1:]...),
		Tail:        tailScript,
		Full:        full,
	}, nil
}
