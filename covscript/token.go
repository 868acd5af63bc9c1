package covscript

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/exp/slices"
)

// Token is a single element of a script: an opcode, or a push of data.
// Data is only set for data pushing opcodes (OP_DATA_1 through
// OP_PUSHDATA4). Small integers are represented by their opcode alone.
type Token struct {
	Op   byte
	Data []byte
}

// Op returns a token for a non-push opcode.
func Op(op byte) Token {
	return Token{Op: op}
}

// Push returns the minimal push of data. The single byte values 1 through 16
// and 0x81 become OP_1 through OP_16 and OP_1NEGATE, which leave the same
// bytes on the stack. Unlike txscript.ScriptBuilder, a single zero byte is
// kept as a one byte push since OP_0 would push an empty vector instead.
func Push(data []byte) Token {
	switch {
	case len(data) == 0:
		return Token{Op: txscript.OP_0}

	case len(data) == 1 && data[0] >= 1 && data[0] <= 16:
		return Token{Op: txscript.OP_1 + data[0] - 1}

	case len(data) == 1 && data[0] == 0x81:
		return Token{Op: txscript.OP_1NEGATE}

	case len(data) < txscript.OP_PUSHDATA1:
		return Token{Op: byte(len(data)), Data: slices.Clone(data)}

	case len(data) <= 0xff:
		return Token{Op: txscript.OP_PUSHDATA1, Data: slices.Clone(data)}

	case len(data) <= 0xffff:
		return Token{Op: txscript.OP_PUSHDATA2, Data: slices.Clone(data)}

	default:
		return Token{Op: txscript.OP_PUSHDATA4, Data: slices.Clone(data)}
	}
}

// Int returns the minimal push of a script number.
func Int(n int64) Token {
	script, err := txscript.NewScriptBuilder().AddInt64(n).Script()
	if err != nil {
		// A single number never exceeds the builder's size limit.
		panic(err)
	}

	parsed, err := ParseScript(script)
	if err != nil || parsed.NumTokens() != 1 {
		panic("unable to parse script number push")
	}

	return parsed.tokens[0]
}

// IsPush returns true if the token pushes a value onto the stack.
func (t Token) IsPush() bool {
	return t.Op <= txscript.OP_16 && t.Op != txscript.OP_RESERVED
}

// IsDataPush returns true if the token carries its data inline.
func (t Token) IsDataPush() bool {
	return t.Op >= txscript.OP_DATA_1 && t.Op <= txscript.OP_PUSHDATA4
}

// StackValue returns the value a push token leaves on the stack.
func (t Token) StackValue() []byte {
	switch {
	case t.Op == txscript.OP_0:
		return []byte{}
	case t.Op == txscript.OP_1NEGATE:
		return []byte{0x81}
	case t.Op >= txscript.OP_1 && t.Op <= txscript.OP_16:
		return []byte{t.Op - txscript.OP_1 + 1}
	case t.IsDataPush():
		return slices.Clone(t.Data)
	default:
		return nil
	}
}

// Bytes returns the serialized token.
func (t Token) Bytes() []byte {
	if !t.IsDataPush() {
		return []byte{t.Op}
	}

	// The opcode fixes the width of the length, which need not be
	// minimal for parsed scripts.
	size := len(t.Data)
	var prefix []byte
	switch t.Op {
	case txscript.OP_PUSHDATA1:
		prefix = []byte{t.Op, byte(size)}
	case txscript.OP_PUSHDATA2:
		prefix = []byte{t.Op, byte(size), byte(size >> 8)}
	case txscript.OP_PUSHDATA4:
		prefix = []byte{
			t.Op, byte(size), byte(size >> 8), byte(size >> 16),
			byte(size >> 24),
		}
	default:
		prefix = []byte{t.Op}
	}

	return append(prefix, t.Data...)
}

// String returns the ASM form of the token: hex for data pushes, the opcode
// name otherwise.
func (t Token) String() string {
	if t.IsDataPush() {
		return hex.EncodeToString(t.Data)
	}
	return OpcodeName(t.Op)
}

// Equal returns true if both tokens serialize identically.
func (t Token) Equal(o Token) bool {
	return t.Op == o.Op && bytes.Equal(t.Data, o.Data)
}

// Script is an immutable sequence of tokens.
type Script struct {
	tokens []Token
}

// NewScript returns a script of the given tokens.
func NewScript(tokens ...Token) Script {
	return Script{tokens: cloneTokens(tokens)}
}

func cloneTokens(tokens []Token) []Token {
	c := make([]Token, len(tokens))
	for i, t := range tokens {
		c[i] = Token{Op: t.Op, Data: slices.Clone(t.Data)}
	}
	return c
}

// Concat joins scripts in order.
func Concat(scripts ...Script) Script {
	var tokens []Token
	for _, s := range scripts {
		tokens = append(tokens, s.tokens...)
	}
	return NewScript(tokens...)
}

// Append returns a new script with tokens added at the end.
func (s Script) Append(tokens ...Token) Script {
	return Concat(s, NewScript(tokens...))
}

// Tokens returns a copy of the script's tokens.
func (s Script) Tokens() []Token {
	return cloneTokens(s.tokens)
}

// NumTokens returns the number of tokens.
func (s Script) NumTokens() int {
	return len(s.tokens)
}

// Bytes returns the serialized script.
func (s Script) Bytes() []byte {
	var b bytes.Buffer
	for _, t := range s.tokens {
		b.Write(t.Bytes())
	}
	return b.Bytes()
}

// Len returns the length of the serialized script.
func (s Script) Len() int {
	var n int
	for _, t := range s.tokens {
		switch {
		case !t.IsDataPush():
			n++
		case t.Op < txscript.OP_PUSHDATA1:
			n += 1 + len(t.Data)
		case t.Op == txscript.OP_PUSHDATA1:
			n += 2 + len(t.Data)
		case t.Op == txscript.OP_PUSHDATA2:
			n += 3 + len(t.Data)
		default:
			n += 5 + len(t.Data)
		}
	}
	return n
}

// IsEmpty returns true if the script has no tokens.
func (s Script) IsEmpty() bool {
	return len(s.tokens) == 0
}

// Equal returns true if both scripts serialize identically.
func (s Script) Equal(o Script) bool {
	return bytes.Equal(s.Bytes(), o.Bytes())
}

// String returns the space separated ASM form of the script.
func (s Script) String() string {
	parts := make([]string, len(s.tokens))
	for i, t := range s.tokens {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// Builder accumulates tokens, in the manner of txscript.ScriptBuilder.
type Builder struct {
	tokens []Token
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddOp adds an opcode.
func (b *Builder) AddOp(op byte) *Builder {
	b.tokens = append(b.tokens, Op(op))
	return b
}

// AddOps adds a sequence of opcodes.
func (b *Builder) AddOps(ops ...byte) *Builder {
	for _, op := range ops {
		b.AddOp(op)
	}
	return b
}

// AddData adds the minimal push of data.
func (b *Builder) AddData(data []byte) *Builder {
	b.tokens = append(b.tokens, Push(data))
	return b
}

// AddInt64 adds the minimal push of a script number.
func (b *Builder) AddInt64(n int64) *Builder {
	b.tokens = append(b.tokens, Int(n))
	return b
}

// AddScript appends all tokens of a script.
func (b *Builder) AddScript(s Script) *Builder {
	b.tokens = append(b.tokens, s.tokens...)
	return b
}

// Script returns the assembled script.
func (b *Builder) Script() Script {
	return NewScript(b.tokens...)
}
