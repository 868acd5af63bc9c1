package covscript

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// ParseASM parses the space separated text form of a script. A token with
// the OP_ prefix is an opcode. Otherwise an even length hex string, with an
// optional 0x prefix, is pushed as data and anything else is looked up as an
// opcode name without its prefix.
func ParseASM(asm string) (Script, error) {
	fields := strings.Fields(asm)
	tokens := make([]Token, 0, len(fields))

	for _, field := range fields {
		token, err := parseASMToken(field)
		if err != nil {
			return Script{}, err
		}
		tokens = append(tokens, token)
	}

	return Script{tokens: tokens}, nil
}

func parseASMToken(field string) (Token, error) {
	upper := strings.ToUpper(field)
	if strings.HasPrefix(upper, "OP_") {
		op, ok := LookupOpcode(upper)
		if !ok {
			return Token{}, newErrf(ErrUnknownOpcode, "%s", field)
		}
		return opToken(field, op)
	}

	hexStr := field
	if strings.HasPrefix(strings.ToLower(hexStr), "0x") {
		hexStr = hexStr[2:]
	}
	if len(hexStr) > 0 && len(hexStr)%2 == 0 {
		if data, err := hex.DecodeString(hexStr); err == nil {
			return Push(data), nil
		}
	}

	op, ok := LookupOpcode(upper)
	if !ok {
		return Token{}, newErrf(ErrUnknownOpcode, "%s", field)
	}

	return opToken(field, op)
}

// opToken rejects opcodes that carry data and therefore cannot appear by
// name alone.
func opToken(field string, op byte) (Token, error) {
	if op >= txscript.OP_DATA_1 && op <= txscript.OP_PUSHDATA4 {
		return Token{}, newErrf(ErrUnknownOpcode, "%s needs data, "+
			"use a hex literal", field)
	}
	return Op(op), nil
}

// ParseScript splits a serialized script into tokens.
func ParseScript(script []byte) (Script, error) {
	var tokens []Token

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()

		var data []byte
		if op >= txscript.OP_DATA_1 && op <= txscript.OP_PUSHDATA4 {
			data = make([]byte, len(tokenizer.Data()))
			copy(data, tokenizer.Data())
		}

		tokens = append(tokens, Token{Op: op, Data: data})
	}
	if err := tokenizer.Err(); err != nil {
		return Script{}, newErrInner(ErrMalformedPush, err)
	}

	return Script{tokens: tokens}, nil
}

// MustParseASM parses ASM and panics on failure. It is meant for constant
// scripts in tests.
func MustParseASM(asm string) Script {
	s, err := ParseASM(asm)
	if err != nil {
		panic(fmt.Sprintf("invalid asm %q: %v", asm, err))
	}
	return s
}
