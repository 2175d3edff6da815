package proxy

import (
	"context"
)

// requiredAlignmentCeiling is the largest payload a single READ or WRITE
// exchange carries: Read and Write split longer buffers into chunks of
// this size rather than rejecting them.
const requiredAlignmentCeiling = 512

// Client is a connected proxy endpoint, talking either transport through
// the shared caller interface (spec.md §4.2).
type Client struct {
	conn caller
	closer interface{ Close() error }
}

// Dial connects to addr over the requested Transport and completes the
// CONNECT handshake using connectString (spec.md §4.2). For
// TransportByteStream, addr is a "host:port" TCP endpoint; for
// TransportSharedMemory, callers use DialSharedMemory directly since the
// region and eventfds are provided out-of-band (an already-open fd set),
// not an address string.
func Dial(ctx context.Context, addr string, transport Transport, connectString string) (*Client, error) {
	switch transport {
	case TransportByteStream:
		conn, err := dialByteStream(ctx, addr)
		if err != nil {
			return nil, err
		}
		if err := connect(ctx, conn, connectString); err != nil {
			conn.Close()
			return nil, err
		}
		return &Client{conn: conn, closer: conn}, nil
	default:
		return nil, newErr(KindInvalidParameter, "dial", nil)
	}
}

// DialSharedMemory wraps an already-mapped shared-memory region (fd,
// event fds and size resolved by the caller, typically from a proxy
// backend's creation parameters) and completes the CONNECT handshake.
func DialSharedMemory(ctx context.Context, fd, reqEventFd, respEventFd, size int, connectString string) (*Client, error) {
	conn, err := dialSharedMemory(fd, reqEventFd, respEventFd, size)
	if err != nil {
		return nil, err
	}
	if err := connect(ctx, conn, connectString); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{conn: conn, closer: conn}, nil
}

// Info issues an INFO request and returns the remote endpoint's reported
// size, alignment and flags (spec.md §6 "INFO").
func (c *Client) Info(ctx context.Context) (Info, error) {
	respBuf := make([]byte, 20)
	respHeader, n, err := c.conn.call(ctx, RequestHeader{Opcode: OpInfo}, nil, respBuf, 20)
	if err != nil {
		return Info{}, err
	}
	if respHeader.Status != StatusOK {
		return Info{}, newErr(statusToKind(respHeader.Status), "info", nil)
	}
	if n < 20 {
		return Info{}, newErr(KindIO, "info short response", nil)
	}
	return unmarshalInfo(respBuf), nil
}

// Read issues a READ request for len(p) bytes at offset (spec.md §6 "READ").
func (c *Client) Read(ctx context.Context, offset uint64, p []byte) (int, error) {
	if len(p) > requiredAlignmentCeiling {
		return c.readChunked(ctx, offset, p)
	}
	reqHeader := RequestHeader{Opcode: OpRead, Offset: offset, Length: uint64(len(p))}
	respHeader, n, err := c.conn.call(ctx, reqHeader, nil, p, len(p))
	if err != nil {
		return n, err
	}
	if respHeader.Status != StatusOK {
		return 0, newErr(statusToKind(respHeader.Status), "read", nil)
	}
	return int(respHeader.BytesXferred), nil
}

func (c *Client) readChunked(ctx context.Context, offset uint64, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > requiredAlignmentCeiling {
			chunk = requiredAlignmentCeiling
		}
		n, err := c.Read(ctx, offset+uint64(total), p[total:total+chunk])
		total += n
		if err != nil {
			return total, err
		}
		if n < chunk {
			break
		}
	}
	return total, nil
}

// Write issues a WRITE request for p at offset (spec.md §6 "WRITE"). A
// short write from the remote endpoint is a protocol violation, not a
// partial success: it is surfaced as KindIoDeviceError by the caller
// rather than retried (see DESIGN.md, Open Question resolutions).
func (c *Client) Write(ctx context.Context, offset uint64, p []byte) (int, error) {
	if len(p) > requiredAlignmentCeiling {
		return c.writeChunked(ctx, offset, p)
	}
	reqHeader := RequestHeader{Opcode: OpWrite, Offset: offset, Length: uint64(len(p))}
	respHeader, _, err := c.conn.call(ctx, reqHeader, p, nil, 0)
	if err != nil {
		return 0, err
	}
	if respHeader.Status != StatusOK {
		return 0, newErr(statusToKind(respHeader.Status), "write", nil)
	}
	if int(respHeader.BytesXferred) != len(p) {
		return 0, newErr(KindIO, "write short-completed", nil)
	}
	return len(p), nil
}

func (c *Client) writeChunked(ctx context.Context, offset uint64, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > requiredAlignmentCeiling {
			chunk = requiredAlignmentCeiling
		}
		n, err := c.Write(ctx, offset+uint64(total), p[total:total+chunk])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Unmap issues an UNMAP request for [offset, offset+length) (spec.md §6 "UNMAP").
func (c *Client) Unmap(ctx context.Context, offset, length uint64) error {
	reqHeader := RequestHeader{Opcode: OpUnmap, Offset: offset, Length: length}
	respHeader, _, err := c.conn.call(ctx, reqHeader, nil, nil, 0)
	if err != nil {
		return err
	}
	if respHeader.Status != StatusOK {
		return newErr(statusToKind(respHeader.Status), "unmap", nil)
	}
	return nil
}

// ZeroFill issues a ZERO request for [offset, offset+length) (spec.md §6 "ZERO").
func (c *Client) ZeroFill(ctx context.Context, offset, length uint64) error {
	reqHeader := RequestHeader{Opcode: OpZero, Offset: offset, Length: length}
	respHeader, _, err := c.conn.call(ctx, reqHeader, nil, nil, 0)
	if err != nil {
		return err
	}
	if respHeader.Status != StatusOK {
		return newErr(statusToKind(respHeader.Status), "zero-fill", nil)
	}
	return nil
}

// SCSI forwards an opaque command descriptor block to the remote
// endpoint (spec.md §6 "SCSI"). Only meaningful when the remote's INFO
// response advertised the 0x08 capability bit; the remote decides how
// (or whether) to execute it.
func (c *Client) SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error) {
	reqPayload := append(marshalScsiRequest(ScsiRequest{
		CDB:               cdb,
		RequestLength:     uint64(len(reqData)),
		MaxResponseLength: maxRespLength,
	}), reqData...)
	reqHeader := RequestHeader{Opcode: OpSCSI, Length: uint64(len(reqPayload))}
	respBuf := make([]byte, maxRespLength)
	respHeader, _, err := c.conn.call(ctx, reqHeader, reqPayload, respBuf, int(maxRespLength))
	if err != nil {
		return nil, err
	}
	if respHeader.Status != StatusOK {
		return nil, newErr(statusToKind(respHeader.Status), "scsi", nil)
	}
	return respBuf[:respHeader.BytesXferred], nil
}

// Shared issues a SHARED (persistent-reservation) request against the
// remote endpoint (spec.md §6 "SHARED"). Only meaningful for devices
// created with the shared-image flag; the remote's INFO response
// advertises support via the 0x10 capability bit.
func (c *Client) Shared(ctx context.Context, req SharedRequest) (SharedResponse, error) {
	reqPayload := marshalSharedRequest(req)
	reqHeader := RequestHeader{Opcode: OpShared, Length: uint64(len(reqPayload))}
	respBuf := make([]byte, sharedResponseSize)
	respHeader, _, err := c.conn.call(ctx, reqHeader, reqPayload, respBuf, sharedResponseSize)
	if err != nil {
		return SharedResponse{}, err
	}
	if respHeader.Status != StatusOK {
		return SharedResponse{}, newErr(statusToKind(respHeader.Status), "shared", nil)
	}
	return unmarshalSharedResponse(respBuf), nil
}

// Close issues a CLOSE request, best-effort, then tears down the transport.
func (c *Client) Close() error {
	ctx := context.Background()
	c.conn.call(ctx, RequestHeader{Opcode: OpClose}, nil, nil, 0)
	return c.closer.Close()
}
