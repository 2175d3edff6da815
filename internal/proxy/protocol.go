// Package proxy implements both sides of the wire protocol used to
// delegate a virtual disk's I/O to a remote endpoint (spec.md §4.2, §6).
// Two transports share the same request/response framing: an ordered
// byte-stream (TCP or serial) and a shared-memory region with named-event
// signalling.
package proxy

import "encoding/binary"

// Opcode identifies a request/response pair (spec.md §6 "Wire format").
type Opcode uint32

const (
	OpInfo   Opcode = 1
	OpRead   Opcode = 2
	OpWrite  Opcode = 3
	OpConnect Opcode = 4
	OpClose  Opcode = 5
	OpUnmap  Opcode = 6
	OpZero   Opcode = 7
	OpSCSI   Opcode = 8
	OpShared Opcode = 9
)

// Status is the response header's result code (spec.md §6).
type Status uint32

const (
	StatusOK                 Status = 0
	StatusErrorInvalid       Status = 1
	StatusErrorIO            Status = 2
	StatusErrorNoResources   Status = 3
	StatusErrorConnRefused   Status = 4
	StatusErrorCancelled     Status = 5
)

// headerSize is the fixed size of RequestHeader and ResponseHeader on
// the wire (spec.md §6): opcode, flags, offset, length, plus an 8-byte
// unique_id field that no opcode currently sets (SHARED carries its
// 16-byte unique_id in the response payload instead).
const headerSize = 32

// RequestHeader is the fixed-size preamble sent ahead of every request's
// variable-length payload.
type RequestHeader struct {
	Opcode   Opcode
	Flags    uint32
	Offset   uint64
	Length   uint64
	UniqueID [8]byte
}

// ResponseHeader is the fixed-size preamble returned ahead of every
// response's variable-length payload.
type ResponseHeader struct {
	Status       Status
	Flags        uint32
	BytesXferred uint64
	Reserved     uint64
	UniqueID     [8]byte
}

func (h RequestHeader) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Opcode))
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], h.Length)
	copy(buf[24:32], h.UniqueID[:])
	return buf
}

func unmarshalRequestHeader(buf []byte) RequestHeader {
	var h RequestHeader
	h.Opcode = Opcode(binary.LittleEndian.Uint32(buf[0:4]))
	h.Flags = binary.LittleEndian.Uint32(buf[4:8])
	h.Offset = binary.LittleEndian.Uint64(buf[8:16])
	h.Length = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.UniqueID[:], buf[24:32])
	return h
}

func (h ResponseHeader) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Status))
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.BytesXferred)
	binary.LittleEndian.PutUint64(buf[16:24], h.Reserved)
	copy(buf[24:32], h.UniqueID[:])
	return buf
}

func unmarshalResponseHeader(buf []byte) ResponseHeader {
	var h ResponseHeader
	h.Status = Status(binary.LittleEndian.Uint32(buf[0:4]))
	h.Flags = binary.LittleEndian.Uint32(buf[4:8])
	h.BytesXferred = binary.LittleEndian.Uint64(buf[8:16])
	h.Reserved = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.UniqueID[:], buf[24:32])
	return h
}

// INFO response capability bits (spec.md §6 "Info-flag bits").
const (
	infoFlagReadOnly       uint32 = 0x01
	infoFlagSupportsUnmap  uint32 = 0x02
	infoFlagSupportsZero   uint32 = 0x04
	infoFlagSupportsSCSI   uint32 = 0x08
	infoFlagSupportsShared uint32 = 0x10
	infoFlagKeepOpen       uint32 = 0x20
)

// Info is the decoded INFO response payload (spec.md §6 "INFO").
type Info struct {
	FileSize          uint64
	RequiredAlignment uint64
	Flags             uint32
}

func unmarshalInfo(buf []byte) Info {
	return Info{
		FileSize:          binary.LittleEndian.Uint64(buf[0:8]),
		RequiredAlignment: binary.LittleEndian.Uint64(buf[8:16]),
		Flags:             binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// putInfo encodes info into buf, which must be at least 20 bytes.
func putInfo(buf []byte, info Info) {
	binary.LittleEndian.PutUint64(buf[0:8], info.FileSize)
	binary.LittleEndian.PutUint64(buf[8:16], info.RequiredAlignment)
	binary.LittleEndian.PutUint32(buf[16:20], info.Flags)
}

// scsiRequestHeaderSize is the fixed part of a SCSI request's payload
// (spec.md §6 "SCSI"): cdb[16] + req_len + max_resp_len, ahead of
// req_len bytes of command data.
const scsiRequestHeaderSize = 32

// ScsiRequest is the SCSI opcode's fixed request fields, carried as the
// first scsiRequestHeaderSize bytes of the request payload; any trailing
// bytes are the command's own data (spec.md §6 "SCSI").
type ScsiRequest struct {
	CDB               [16]byte
	RequestLength     uint64
	MaxResponseLength uint64
}

func marshalScsiRequest(r ScsiRequest) []byte {
	buf := make([]byte, scsiRequestHeaderSize)
	copy(buf[0:16], r.CDB[:])
	binary.LittleEndian.PutUint64(buf[16:24], r.RequestLength)
	binary.LittleEndian.PutUint64(buf[24:32], r.MaxResponseLength)
	return buf
}

func unmarshalScsiRequest(buf []byte) ScsiRequest {
	var r ScsiRequest
	copy(r.CDB[:], buf[0:16])
	r.RequestLength = binary.LittleEndian.Uint64(buf[16:24])
	r.MaxResponseLength = binary.LittleEndian.Uint64(buf[24:32])
	return r
}

// SharedOpCode selects the persistent-reservation operation carried by a
// SHARED request (spec.md §6 "SHARED"), mirroring the source protocol's
// GetUniqueId/ReadKeys/Register/ClearKeys/Reserve/Release/Preempt set.
type SharedOpCode uint64

const (
	SharedGetUniqueID SharedOpCode = iota
	SharedReadKeys
	SharedRegister
	SharedClearKeys
	SharedReserve
	SharedRelease
	SharedPreempt
)

// SharedRespCode is the reservation-layer result code carried inside a
// SharedResponse, distinct from the transport-level Status: a request
// can transport-succeed (StatusOK) while the reservation itself is
// refused (SharedReservationCollision).
type SharedRespCode uint64

const (
	SharedNoError SharedRespCode = iota
	SharedReservationCollision
	SharedInvalidParameter
	SharedIOError
)

// sharedRequestSize is the SHARED opcode's fixed request payload size
// (spec.md §6 "SHARED"): op, scope, type, existing_key, current_key,
// op_key — six uint64 fields, no trailing data.
const sharedRequestSize = 48

// SharedRequest is the SHARED opcode's request payload.
type SharedRequest struct {
	Op                     SharedOpCode
	ReserveScope           uint64
	ReserveType            uint64
	ExistingReservationKey uint64
	CurrentChannelKey      uint64
	OperationChannelKey    uint64
}

func marshalSharedRequest(r SharedRequest) []byte {
	buf := make([]byte, sharedRequestSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Op))
	binary.LittleEndian.PutUint64(buf[8:16], r.ReserveScope)
	binary.LittleEndian.PutUint64(buf[16:24], r.ReserveType)
	binary.LittleEndian.PutUint64(buf[24:32], r.ExistingReservationKey)
	binary.LittleEndian.PutUint64(buf[32:40], r.CurrentChannelKey)
	binary.LittleEndian.PutUint64(buf[40:48], r.OperationChannelKey)
	return buf
}

func unmarshalSharedRequest(buf []byte) SharedRequest {
	return SharedRequest{
		Op:                     SharedOpCode(binary.LittleEndian.Uint64(buf[0:8])),
		ReserveScope:           binary.LittleEndian.Uint64(buf[8:16]),
		ReserveType:            binary.LittleEndian.Uint64(buf[16:24]),
		ExistingReservationKey: binary.LittleEndian.Uint64(buf[24:32]),
		CurrentChannelKey:      binary.LittleEndian.Uint64(buf[32:40]),
		OperationChannelKey:    binary.LittleEndian.Uint64(buf[40:48]),
	}
}

// sharedResponseSize is the SHARED opcode's fixed response payload size
// (spec.md §6 "SHARED"): errno, unique_id[16], channel_key,
// reservation_key, scope, type, length.
const sharedResponseSize = 8 + 16 + 8*5

// SharedResponse is the SHARED opcode's response payload.
type SharedResponse struct {
	ErrorNo          SharedRespCode
	UniqueID         [16]byte
	ChannelKey       uint64
	ReservationKey   uint64
	ReservationScope uint64
	ReservationType  uint64
	Length           uint64
}

func marshalSharedResponse(r SharedResponse) []byte {
	buf := make([]byte, sharedResponseSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.ErrorNo))
	copy(buf[8:24], r.UniqueID[:])
	binary.LittleEndian.PutUint64(buf[24:32], r.ChannelKey)
	binary.LittleEndian.PutUint64(buf[32:40], r.ReservationKey)
	binary.LittleEndian.PutUint64(buf[40:48], r.ReservationScope)
	binary.LittleEndian.PutUint64(buf[48:56], r.ReservationType)
	binary.LittleEndian.PutUint64(buf[56:64], r.Length)
	return buf
}

func unmarshalSharedResponse(buf []byte) SharedResponse {
	var r SharedResponse
	r.ErrorNo = SharedRespCode(binary.LittleEndian.Uint64(buf[0:8]))
	copy(r.UniqueID[:], buf[8:24])
	r.ChannelKey = binary.LittleEndian.Uint64(buf[24:32])
	r.ReservationKey = binary.LittleEndian.Uint64(buf[32:40])
	r.ReservationScope = binary.LittleEndian.Uint64(buf[40:48])
	r.ReservationType = binary.LittleEndian.Uint64(buf[48:56])
	r.Length = binary.LittleEndian.Uint64(buf[56:64])
	return r
}

// Transport selects the underlying channel (spec.md §4.2, §6).
type Transport int

const (
	TransportByteStream Transport = iota
	TransportSharedMemory
)
