package covscript

import (
	"sort"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// Elements tapscript extensions. These reuse the OP_SUCCESSx range of
// Bitcoin tapscript, so btcd knows them only as unknown opcodes.
const (
	OP_CHECKSIGFROMSTACK         = 0xc1
	OP_CHECKSIGFROMSTACKVERIFY   = 0xc2
	OP_SUBSTR_LAZY               = 0xc3
	OP_SHA256INITIALIZE          = 0xc4
	OP_SHA256UPDATE              = 0xc5
	OP_SHA256FINALIZE            = 0xc6
	OP_INSPECTINPUTOUTPOINT      = 0xc7
	OP_INSPECTINPUTASSET         = 0xc8
	OP_INSPECTINPUTVALUE         = 0xc9
	OP_INSPECTINPUTSCRIPTPUBKEY  = 0xca
	OP_INSPECTINPUTSEQUENCE      = 0xcb
	OP_INSPECTINPUTISSUANCE      = 0xcc
	OP_PUSHCURRENTINPUTINDEX     = 0xcd
	OP_INSPECTOUTPUTASSET        = 0xce
	OP_INSPECTOUTPUTVALUE        = 0xcf
	OP_INSPECTOUTPUTNONCE        = 0xd0
	OP_INSPECTOUTPUTSCRIPTPUBKEY = 0xd1
	OP_INSPECTVERSION            = 0xd2
	OP_INSPECTLOCKTIME           = 0xd3
	OP_INSPECTNUMINPUTS          = 0xd4
	OP_INSPECTNUMOUTPUTS         = 0xd5
	OP_TXWEIGHT                  = 0xd6
	OP_ADD64                     = 0xd7
	OP_SUB64                     = 0xd8
	OP_MUL64                     = 0xd9
	OP_DIV64                     = 0xda
	OP_NEG64                     = 0xdb
	OP_LESSTHAN64                = 0xdc
	OP_LESSTHANOREQUAL64         = 0xdd
	OP_GREATERTHAN64             = 0xde
	OP_GREATERTHANOREQUAL64      = 0xdf
	OP_SCRIPTNUMTOLE64           = 0xe0
	OP_LE64TOSCRIPTNUM           = 0xe1
	OP_LE32TOLE64                = 0xe2
	OP_ECMULSCALARVERIFY         = 0xe3
	OP_TWEAKVERIFY               = 0xe4
)

var elementsOpcodes = map[string]byte{
	"OP_CHECKSIGFROMSTACK":         OP_CHECKSIGFROMSTACK,
	"OP_CHECKSIGFROMSTACKVERIFY":   OP_CHECKSIGFROMSTACKVERIFY,
	"OP_SUBSTR_LAZY":               OP_SUBSTR_LAZY,
	"OP_SHA256INITIALIZE":          OP_SHA256INITIALIZE,
	"OP_SHA256UPDATE":              OP_SHA256UPDATE,
	"OP_SHA256FINALIZE":            OP_SHA256FINALIZE,
	"OP_INSPECTINPUTOUTPOINT":      OP_INSPECTINPUTOUTPOINT,
	"OP_INSPECTINPUTASSET":         OP_INSPECTINPUTASSET,
	"OP_INSPECTINPUTVALUE":         OP_INSPECTINPUTVALUE,
	"OP_INSPECTINPUTSCRIPTPUBKEY":  OP_INSPECTINPUTSCRIPTPUBKEY,
	"OP_INSPECTINPUTSEQUENCE":      OP_INSPECTINPUTSEQUENCE,
	"OP_INSPECTINPUTISSUANCE":      OP_INSPECTINPUTISSUANCE,
	"OP_PUSHCURRENTINPUTINDEX":     OP_PUSHCURRENTINPUTINDEX,
	"OP_INSPECTOUTPUTASSET":        OP_INSPECTOUTPUTASSET,
	"OP_INSPECTOUTPUTVALUE":        OP_INSPECTOUTPUTVALUE,
	"OP_INSPECTOUTPUTNONCE":        OP_INSPECTOUTPUTNONCE,
	"OP_INSPECTOUTPUTSCRIPTPUBKEY": OP_INSPECTOUTPUTSCRIPTPUBKEY,
	"OP_INSPECTVERSION":            OP_INSPECTVERSION,
	"OP_INSPECTLOCKTIME":           OP_INSPECTLOCKTIME,
	"OP_INSPECTNUMINPUTS":          OP_INSPECTNUMINPUTS,
	"OP_INSPECTNUMOUTPUTS":         OP_INSPECTNUMOUTPUTS,
	"OP_TXWEIGHT":                  OP_TXWEIGHT,
	"OP_ADD64":                     OP_ADD64,
	"OP_SUB64":                     OP_SUB64,
	"OP_MUL64":                     OP_MUL64,
	"OP_DIV64":                     OP_DIV64,
	"OP_NEG64":                     OP_NEG64,
	"OP_LESSTHAN64":                OP_LESSTHAN64,
	"OP_LESSTHANOREQUAL64":         OP_LESSTHANOREQUAL64,
	"OP_GREATERTHAN64":             OP_GREATERTHAN64,
	"OP_GREATERTHANOREQUAL64":      OP_GREATERTHANOREQUAL64,
	"OP_SCRIPTNUMTOLE64":           OP_SCRIPTNUMTOLE64,
	"OP_LE64TOSCRIPTNUM":           OP_LE64TOSCRIPTNUM,
	"OP_LE32TOLE64":                OP_LE32TOLE64,
	"OP_ECMULSCALARVERIFY":         OP_ECMULSCALARVERIFY,
	"OP_TWEAKVERIFY":               OP_TWEAKVERIFY,
}

// preferredNames picks the display name of opcodes that have aliases.
var preferredNames = map[byte]string{
	txscript.OP_0:                   "OP_0",
	txscript.OP_1:                   "OP_1",
	txscript.OP_CHECKLOCKTIMEVERIFY: "OP_CHECKLOCKTIMEVERIFY",
	txscript.OP_CHECKSEQUENCEVERIFY: "OP_CHECKSEQUENCEVERIFY",
}

var (
	// OpcodeByName maps every known opcode name, including the Elements
	// extensions, to its value.
	OpcodeByName map[string]byte

	// opcodeNames holds the display name of each opcode value.
	opcodeNames [256]string
)

func isElementsOpcode(op byte) bool {
	return op >= OP_CHECKSIGFROMSTACK && op <= OP_TWEAKVERIFY
}

func init() {
	OpcodeByName = make(map[string]byte, len(txscript.OpcodeByName)+
		len(elementsOpcodes))

	for name, op := range txscript.OpcodeByName {
		// The Elements extensions replace btcd's placeholder names.
		if isElementsOpcode(op) {
			continue
		}
		OpcodeByName[name] = op
	}
	for name, op := range elementsOpcodes {
		OpcodeByName[name] = op
	}

	// Pick a single display name per value. Without a preference, the
	// shortest and then lexicographically smallest name wins.
	names := make([]string, 0, len(OpcodeByName))
	for name := range OpcodeByName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		op := OpcodeByName[name]
		if opcodeNames[op] == "" {
			opcodeNames[op] = name
		}
	}
	for op, name := range preferredNames {
		opcodeNames[op] = name
	}
}

// OpcodeName returns the display name of an opcode.
func OpcodeName(op byte) string {
	return opcodeNames[op]
}

// LookupOpcode resolves an opcode name, with or without the OP_ prefix.
func LookupOpcode(name string) (byte, bool) {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "OP_") {
		name = "OP_" + name
	}

	op, ok := OpcodeByName[name]
	return op, ok
}
