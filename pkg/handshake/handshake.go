package handshake

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// NonceSize is the width of every device-issued nonce in bytes.
const NonceSize = 4

// ErrNonceSize is returned when a nonce is not exactly NonceSize bytes.
var ErrNonceSize = errors.New("handshake: nonce must be 4 bytes")

// Table is a fixed sequence of 32-bit words XORed with the nonce.
type Table []uint32

// Register transport, Sync flavour.
var (
	// SyncCommandTable produces the 20-byte value written to register 0x002C.
	SyncCommandTable = Table{0x49454d10, 0x10000130, 0x02018000, 0x450200a0, 0xffffff18}

	// SyncConfirmTable produces the 20-byte value written to register 0x002E.
	SyncConfirmTable = Table{0x35504603, 0x00000000, 0x00000000, 0x00000000, 0xffffff00}
)

// Register transport, Lab flavour.
var (
	// LabCommandTable produces the 20-byte value written to register 0x0072.
	LabCommandTable = Table{0x831f7010, 0x4ecc7098, 0xb82b81f0, 0xaff90f2a, 0xffffff88}

	// LabConfirmTable produces the 8-byte value written to register 0x0074.
	LabConfirmTable = Table{0x35504603, 0xffffff00}
)

// Request/response transport.
var (
	// CallTable produces the 36-byte value sent as req_acc_e value.
	CallTable = Table{
		892617780, 808663348, 808529965,
		808529200, 942485552, 758198320,
		809579056, 842018864, 942748980,
	}

	// CallExtraKey produces the 4-byte value sent as req_acc_e value2.
	CallExtraKey uint32 = 4281684038
)

// Derive XORs nonce with every word of table and concatenates the results,
// each word written big-endian.
func Derive(nonce uint32, table Table) []byte {
	out := make([]byte, NonceSize*len(table))
	for i, k := range table {
		binary.BigEndian.PutUint32(out[i*NonceSize:], nonce^k)
	}
	return out
}

// RegisterNonce decodes a nonce read from a register. The register carries
// the word big-endian.
func RegisterNonce(raw []byte) (uint32, error) {
	if len(raw) != NonceSize {
		return 0, fmt.Errorf("%w: got %d", ErrNonceSize, len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// Response is the pair of buffers a register login writes back.
type Response struct {
	Command []byte
	Confirm []byte
}

// SyncResponse derives the Sync flavour login buffers from the raw nonce.
func SyncResponse(raw []byte) (Response, error) {
	n, err := RegisterNonce(raw)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Command: Derive(n, SyncCommandTable),
		Confirm: Derive(n, SyncConfirmTable),
	}, nil
}

// LabResponse derives the Lab flavour login buffers from the raw nonce.
func LabResponse(raw []byte) (Response, error) {
	n, err := RegisterNonce(raw)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Command: Derive(n, LabCommandTable),
		Confirm: Derive(n, LabConfirmTable),
	}, nil
}

// CallNonce decodes the hex nonce returned by req_acc_g. The four bytes are
// little-endian.
func CallNonce(s string) (uint32, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("handshake: nonce %q: %w", s, err)
	}
	if len(raw) != NonceSize {
		return 0, fmt.Errorf("%w: got %d", ErrNonceSize, len(raw))
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// CallResponse derives the req_acc_e value and value2 parameters, both as
// lowercase hex.
func CallResponse(nonceHex string) (value, value2 string, err error) {
	n, err := CallNonce(nonceHex)
	if err != nil {
		return "", "", err
	}
	v2 := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(v2, n^CallExtraKey)
	return hex.EncodeToString(Derive(n, CallTable)), hex.EncodeToString(v2), nil
}
