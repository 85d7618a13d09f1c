// Package syscall defines the fixed vocabulary of user-program system
// calls this kernel exposes: a closed set of opcodes and the wire shape
// of each call's arguments and result. It deliberately stops there —
// there is no trap handler here, no argument marshalling off of machine
// registers, and no dispatch table. Wiring a call's wire shape to an
// actual handler is another package's job.
package syscall

import (
	"encoding/binary"
	"errors"

	"github.com/IgnacioCantore/Nachos/internal/config"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 6

// Opcode identifies which system call a Header introduces.
type Opcode uint16

const (
	OpHalt Opcode = iota + 1
	OpCreate
	OpRemove
	OpOpen
	OpClose
	OpRead
	OpWrite
	OpExec
	OpExit
	OpJoin
	OpMkdir
	OpCd
)

// ConsoleInputFID and ConsoleOutputFID are the two file ids every address
// space starts out with, standing in for the keyboard and the display.
const (
	ConsoleInputFID  int32 = 0
	ConsoleOutputFID int32 = 1
)

// FailureResult is what every system call returns on failure, whatever
// its success value would otherwise have been.
const FailureResult int32 = -1

var (
	ErrMsgTooShort = errors.New("syscall: message too short")
	ErrPathTooLong = errors.New("syscall: path exceeds maximum length")
)

// Header precedes every encoded request or response: which call it is,
// and how many bytes of payload follow it.
type Header struct {
	Opcode Opcode
	Length uint32
}

func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Opcode))
	binary.LittleEndian.PutUint32(buf[2:6], h.Length)
}

func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrMsgTooShort
	}
	h.Opcode = Opcode(binary.LittleEndian.Uint16(buf[0:2]))
	h.Length = binary.LittleEndian.Uint32(buf[2:6])
	return nil
}

func encodeString(buf []byte, s string) int {
	b := []byte(s)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(b)))
	copy(buf[2:], b)
	return 2 + len(b)
}

func decodeString(buf []byte, maxLen int) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, ErrMsgTooShort
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if n > maxLen {
		return "", 0, ErrPathTooLong
	}
	if len(buf) < 2+n {
		return "", 0, ErrMsgTooShort
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}

// HaltRequest takes no arguments; the call itself has no return value
// because the kernel never returns from it.
type HaltRequest struct{}

// CreateRequest names the file to create.
type CreateRequest struct {
	Path string
}

func (r *CreateRequest) Encode(buf []byte) int { return encodeString(buf, r.Path) }

func (r *CreateRequest) Decode(buf []byte) error {
	path, _, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	return nil
}

// CreateResponse carries 0 on success, FailureResult on failure.
type CreateResponse struct {
	Result int32
}

func (r *CreateResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Result))
	return 4
}

func (r *CreateResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Result = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// RemoveRequest names the file to remove.
type RemoveRequest struct {
	Path string
}

func (r *RemoveRequest) Encode(buf []byte) int { return encodeString(buf, r.Path) }

func (r *RemoveRequest) Decode(buf []byte) error {
	path, _, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	return nil
}

// RemoveResponse carries 0 on success, FailureResult on failure.
type RemoveResponse struct {
	Result int32
}

func (r *RemoveResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Result))
	return 4
}

func (r *RemoveResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Result = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// OpenRequest names the file to open.
type OpenRequest struct {
	Path string
}

func (r *OpenRequest) Encode(buf []byte) int { return encodeString(buf, r.Path) }

func (r *OpenRequest) Decode(buf []byte) error {
	path, _, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	return nil
}

// OpenResponse carries the new file id, or FailureResult on failure.
type OpenResponse struct {
	FID int32
}

func (r *OpenResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FID))
	return 4
}

func (r *OpenResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.FID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// CloseRequest names the file id to close.
type CloseRequest struct {
	FID int32
}

func (r *CloseRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FID))
	return 4
}

func (r *CloseRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.FID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// ReadRequest asks for at most Size bytes from FID (ConsoleInputFID reads
// from the console).
type ReadRequest struct {
	FID  int32
	Size uint32
}

func (r *ReadRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FID))
	binary.LittleEndian.PutUint32(buf[4:8], r.Size)
	return 8
}

func (r *ReadRequest) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.FID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	r.Size = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// ReadResponse carries the bytes actually read; Count is FailureResult on
// failure, and equal to len(Data) otherwise.
type ReadResponse struct {
	Count int32
	Data  []byte
}

func (r *ReadResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Count))
	copy(buf[4:], r.Data)
	return 4 + len(r.Data)
}

func (r *ReadResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Count = int32(binary.LittleEndian.Uint32(buf[0:4]))
	if r.Count <= 0 {
		r.Data = nil
		return nil
	}
	if len(buf) < 4+int(r.Count) {
		return ErrMsgTooShort
	}
	r.Data = make([]byte, r.Count)
	copy(r.Data, buf[4:4+r.Count])
	return nil
}

// WriteRequest asks for Data to be written to FID (ConsoleOutputFID
// writes to the console).
type WriteRequest struct {
	FID  int32
	Data []byte
}

func (r *WriteRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)
	return 8 + len(r.Data)
}

func (r *WriteRequest) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.FID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	if len(buf) < 8+n {
		return ErrMsgTooShort
	}
	r.Data = make([]byte, n)
	copy(r.Data, buf[8:8+n])
	return nil
}

// WriteResponse carries the number of bytes written, or FailureResult.
type WriteResponse struct {
	Count int32
}

func (r *WriteResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Count))
	return 4
}

func (r *WriteResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Count = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// ExecRequest names a program to run as a new address space, whether its
// exit status can later be Joined, and its argument vector.
type ExecRequest struct {
	Path     string
	Joinable bool
	Argv     []string
}

func (r *ExecRequest) Encode(buf []byte) int {
	off := encodeString(buf, r.Path)
	if r.Joinable {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(r.Argv)))
	off += 2
	for _, arg := range r.Argv {
		off += encodeString(buf[off:], arg)
	}
	return off
}

func (r *ExecRequest) Decode(buf []byte) error {
	path, n, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	off := n

	if len(buf) < off+3 {
		return ErrMsgTooShort
	}
	r.Joinable = buf[off] != 0
	off++
	count := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2

	r.Argv = make([]string, 0, count)
	for i := 0; i < count; i++ {
		arg, n, err := decodeString(buf[off:], config.PathNameMaxLen)
		if err != nil {
			return err
		}
		r.Argv = append(r.Argv, arg)
		off += n
	}
	return nil
}

// ExecResponse carries the new address space's id, or FailureResult.
type ExecResponse struct {
	SpaceID int32
}

func (r *ExecResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.SpaceID))
	return 4
}

func (r *ExecResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.SpaceID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// ExitRequest carries the calling address space's exit status. The call
// never returns to its caller, so there is no corresponding response.
type ExitRequest struct {
	Status int32
}

func (r *ExitRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	return 4
}

func (r *ExitRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// JoinRequest names the joinable address space to wait for.
type JoinRequest struct {
	SpaceID int32
}

func (r *JoinRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.SpaceID))
	return 4
}

func (r *JoinRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.SpaceID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// JoinResponse carries the joined address space's exit status, or
// FailureResult if it was never joinable or never existed.
type JoinResponse struct {
	Status int32
}

func (r *JoinResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	return 4
}

func (r *JoinResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// MkdirRequest names the directory to create.
type MkdirRequest struct {
	Path string
}

func (r *MkdirRequest) Encode(buf []byte) int { return encodeString(buf, r.Path) }

func (r *MkdirRequest) Decode(buf []byte) error {
	path, _, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	return nil
}

// MkdirResponse carries 0 on success, FailureResult on failure.
type MkdirResponse struct {
	Result int32
}

func (r *MkdirResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Result))
	return 4
}

func (r *MkdirResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Result = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// CdRequest names the directory to change into.
type CdRequest struct {
	Path string
}

func (r *CdRequest) Encode(buf []byte) int { return encodeString(buf, r.Path) }

func (r *CdRequest) Decode(buf []byte) error {
	path, _, err := decodeString(buf, config.PathNameMaxLen)
	if err != nil {
		return err
	}
	r.Path = path
	return nil
}

// CdResponse carries 0 on success, FailureResult on failure.
type CdResponse struct {
	Result int32
}

func (r *CdResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Result))
	return 4
}

func (r *CdResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Result = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}
