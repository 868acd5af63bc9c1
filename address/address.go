package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// TaprootWitnessVersion is the segwit version of taproot outputs.
	TaprootWitnessVersion = 1

	// maxWitnessVersion is the highest segwit version.
	maxWitnessVersion = 16
)

var (
	// ErrInvalidWitnessProgram is returned for witness programs that
	// violate the length rules of their version.
	ErrInvalidWitnessProgram = errors.New("invalid witness program")

	// ErrWrongEncoding is returned when a v0 program is bech32m encoded or
	// a v1+ program is bech32 encoded.
	ErrWrongEncoding = errors.New("wrong bech32 variant for witness " +
		"version")
)

func validateProgram(version byte, program []byte) error {
	switch {
	case version > maxWitnessVersion:
		return fmt.Errorf("%w: version %d", ErrInvalidWitnessProgram,
			version)

	case version == 0 && len(program) != 20 && len(program) != 32:
		return fmt.Errorf("%w: v0 program of length %d",
			ErrInvalidWitnessProgram, len(program))

	case len(program) < 2 || len(program) > 40:
		return fmt.Errorf("%w: program of length %d",
			ErrInvalidWitnessProgram, len(program))
	}

	return nil
}

// EncodeWitness encodes a witness program as an unconfidential segwit address
// of the given network. Version 0 programs use bech32, later versions use
// bech32m.
func EncodeWitness(version byte, program []byte,
	params *ChainParams) (string, error) {

	if err := validateProgram(version, program); err != nil {
		return "", err
	}

	// Group the program bytes into 5 bit groups, as this is what is used
	// to encode each character in the address string.
	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	data := append([]byte{version}, converted...)

	if version == 0 {
		return bech32.Encode(params.Bech32HRP, data)
	}
	return bech32.EncodeM(params.Bech32HRP, data)
}

// EncodeTaproot returns the unconfidential taproot address of an output key.
func EncodeTaproot(outputKey *btcec.PublicKey,
	params *ChainParams) (string, error) {

	return EncodeWitness(
		TaprootWitnessVersion, schnorr.SerializePubKey(outputKey),
		params,
	)
}

// DecodeWitness parses an unconfidential segwit address of the given network
// and returns its witness version and program.
func DecodeWitness(addr string, params *ChainParams) (byte, []byte, error) {
	hrp, data, variant, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return 0, nil, err
	}
	if !IsForNet(hrp, params) {
		return 0, nil, fmt.Errorf("%w: %s is not for %s",
			ErrUnsupportedHRP, hrp, params.Name)
	}
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: empty data",
			ErrInvalidWitnessProgram)
	}

	version := data[0]
	switch {
	case version == 0 && variant != bech32.Version0:
		return 0, nil, ErrWrongEncoding
	case version != 0 && variant != bech32.VersionM:
		return 0, nil, ErrWrongEncoding
	}

	// The remaining characters are grouped into words of 5 bits. In order
	// to restore the program we'll need to regroup into 8 bit words.
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return 0, nil, err
	}
	if err := validateProgram(version, program); err != nil {
		return 0, nil, err
	}

	return version, program, nil
}

// DecodeTaproot parses a taproot address and returns its output key.
func DecodeTaproot(addr string, params *ChainParams) (*btcec.PublicKey,
	error) {

	version, program, err := DecodeWitness(addr, params)
	if err != nil {
		return nil, err
	}
	if version != TaprootWitnessVersion || len(program) != 32 {
		return nil, fmt.Errorf("%w: not a taproot address",
			ErrInvalidWitnessProgram)
	}

	return schnorr.ParsePubKey(program)
}

// WitnessScript returns the output script paying to a witness program.
func WitnessScript(version byte, program []byte) ([]byte, error) {
	if err := validateProgram(version, program); err != nil {
		return nil, err
	}

	versionOp := byte(txscript.OP_0)
	if version != 0 {
		versionOp = txscript.OP_1 + version - 1
	}

	return txscript.NewScriptBuilder().
		AddOp(versionOp).
		AddData(program).
		Script()
}

// ToOutputScript returns the output script an address pays to.
func ToOutputScript(addr string, params *ChainParams) ([]byte, error) {
	version, program, err := DecodeWitness(addr, params)
	if err != nil {
		return nil, err
	}

	return WitnessScript(version, program)
}

// FromOutputScript returns the unconfidential address of a witness output
// script.
func FromOutputScript(pkScript []byte, params *ChainParams) (string, error) {
	version, program, err := txscript.ExtractWitnessProgramInfo(pkScript)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWitnessProgram, err)
	}

	return EncodeWitness(byte(version), program, params)
}

// NetForAddress returns the network of an address by its human readable
// part.
func NetForAddress(addr string) (*ChainParams, error) {
	idx := strings.LastIndexByte(addr, '1')
	if idx < 1 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHRP, addr)
	}
	hrp := strings.ToLower(addr[:idx])

	netsMtx.RLock()
	defer netsMtx.RUnlock()

	for _, params := range registeredNets {
		if params.Bech32HRP == hrp {
			return params, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedHRP, hrp)
}
