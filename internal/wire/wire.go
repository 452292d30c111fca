// Package wire implements the process-proxy binary protocol: frame
// primitives, opcodes, the response envelope, and the handshake block.
//
// All multi-byte integers are little-endian. Strings are length-prefixed
// UTF-8 and never NUL-terminated. There is no checksum and no delimiter;
// length fields alone govern extent.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Op identifies a single command on the wire.
type Op byte

// The closed set of command opcodes. 0x08 is deliberately unused.
const (
	OpGetArgs          Op = 0x01
	OpReadInput        Op = 0x02
	OpWriteOut         Op = 0x03
	OpWriteErr         Op = 0x04
	OpGetCwd           Op = 0x05
	OpGetEnv           Op = 0x06
	OpExit             Op = 0x07
	OpCloseInput       Op = 0x09
	OpCloseOut         Op = 0x0A
	OpCloseErr         Op = 0x0B
	OpIsInputConnected Op = 0x0C
)

// String returns a short diagnostic name for the opcode, used in error
// messages and logs.
func (op Op) String() string {
	switch op {
	case OpGetArgs:
		return "GET_ARGS"
	case OpReadInput:
		return "READ_INPUT"
	case OpWriteOut:
		return "WRITE_OUT"
	case OpWriteErr:
		return "WRITE_ERR"
	case OpGetCwd:
		return "GET_CWD"
	case OpGetEnv:
		return "GET_ENV"
	case OpExit:
		return "EXIT"
	case OpCloseInput:
		return "CLOSE_INPUT"
	case OpCloseOut:
		return "CLOSE_OUT"
	case OpCloseErr:
		return "CLOSE_ERR"
	case OpIsInputConnected:
		return "IS_INPUT_CONNECTED"
	default:
		return fmt.Sprintf("OP(0x%02x)", byte(op))
	}
}

// IsValid reports whether op is one of the eleven defined opcodes.
func IsValid(op Op) bool {
	switch op {
	case OpGetArgs, OpReadInput, OpWriteOut, OpWriteErr, OpGetCwd, OpGetEnv,
		OpExit, OpCloseInput, OpCloseOut, OpCloseErr, OpIsInputConnected:
		return true
	default:
		return false
	}
}

// maxStringLen guards ReadString against a corrupt or hostile length
// prefix turning a small frame into a multi-gigabyte allocation.
const maxStringLen = 64 << 20 // 64 MiB

// WriteOp writes a single opcode byte.
func WriteOp(w io.Writer, op Op) error {
	_, err := w.Write([]byte{byte(op)})
	return err
}

// ReadOp reads a single opcode byte.
func ReadOp(r io.Reader) (Op, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Op(b[0]), nil
}

// WriteU32 writes a little-endian uint32.
func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadU32 reads a little-endian uint32.
func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteI32 writes a little-endian int32.
func WriteI32(w io.Writer, v int32) error {
	return WriteU32(w, uint32(v))
}

// ReadI32 reads a little-endian int32.
func ReadI32(r io.Reader) (int32, error) {
	v, err := ReadU32(r)
	return int32(v), err
}

// WriteBytes writes a u32 length prefix followed by raw bytes. It is the
// primitive WriteString and the WRITE_OUT/WRITE_ERR payload share.
func WriteBytes(w io.Writer, p []byte) error {
	if err := WriteU32(w, uint32(len(p))); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	_, err := w.Write(p)
	return err
}

// ReadBytes reads a u32 length prefix followed by exactly that many raw
// bytes.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadU32(r)
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("wire: length prefix %d exceeds %d byte cap", n, maxStringLen)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteStringSlice writes a u32 count followed by that many
// length-prefixed strings, the shape GET_ARGS and GET_ENV share.
func WriteStringSlice(w io.Writer, ss []string) error {
	if err := WriteU32(w, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringSlice reads a u32 count followed by that many length-prefixed
// strings.
func ReadStringSlice(r io.Reader) ([]string, error) {
	n, err := ReadU32(r)
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("wire: element count %d exceeds %d cap", n, maxStringLen)
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteStatus writes the response envelope's leading status field. A zero
// status means success; any other value must be followed by an error
// message via WriteString.
func WriteStatus(w io.Writer, status int32) error {
	return WriteI32(w, status)
}

// ReadStatus reads the response envelope's leading status field.
func ReadStatus(r io.Reader) (int32, error) {
	return ReadI32(r)
}

// StatusOK is the response status for a successful command.
const StatusOK int32 = 0

// StatusError is used whenever a handler needs a generic non-zero status;
// the protocol does not distinguish error causes on the wire beyond the
// accompanying message.
const StatusError int32 = 1
