package proxy

import (
	"context"
	"io"
	"net"
)

// DeviceOps is the subset of engine.Device the server needs to answer
// wire requests, kept as an interface here so internal/proxy never
// imports internal/engine (spec.md §4.2: the proxy package only knows
// about bytes and offsets, not device/backend semantics).
type DeviceOps interface {
	Size() uint64
	RequiredAlignment() uint64
	ReadAt(ctx context.Context, offset uint64, p []byte) (int, error)
	WriteAt(ctx context.Context, offset uint64, p []byte) (int, error)
	Unmap(ctx context.Context, offset, length uint64) error
	ZeroFill(ctx context.Context, offset, length uint64) error
}

// ScsiHandler is implemented by a DeviceOps that can forward an opaque
// SCSI command descriptor block to something that understands it
// (spec.md §6 "SCSI"). A DeviceOps that doesn't implement it answers
// every SCSI request with StatusErrorInvalid.
type ScsiHandler interface {
	SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error)
}

// SharedHandler is implemented by a DeviceOps that tracks SCSI-3-style
// persistent reservations for a shared image (spec.md §6 "SHARED"). A
// DeviceOps that doesn't implement it answers every SHARED request with
// StatusErrorInvalid.
type SharedHandler interface {
	Shared(ctx context.Context, req SharedRequest) (SharedResponse, error)
}

// Resolver maps a CONNECT string to the device it names, or ok=false if
// no such device is being served (spec.md §4.2 "CONNECT").
type Resolver func(connectString string) (DeviceOps, bool)

// Server accepts byte-stream connections and serves INFO/READ/WRITE/
// UNMAP/ZERO requests against devices resolved by resolve (spec.md §4.2,
// §6). It does not implement the shared-memory transport: that requires
// an already-open fd handed to the peer out-of-band, which is a
// CreateRequest-time decision on the client side, not something a
// generic listener accepts connections for.
type Server struct {
	ln      net.Listener
	resolve Resolver
}

// Listen starts a byte-stream Server on addr.
func Listen(addr string, resolve Resolver) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newErr(KindIO, "proxy listen", err)
	}
	return &Server{ln: ln, resolve: resolve}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newErr(KindIO, "proxy accept", err)
		}
		go s.serveConn(ctx, nc)
	}
}

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	conn := &serverConn{nc: nc}

	dev, ok := s.handshake(conn)
	if !ok {
		return
	}

	for {
		reqHeader, payload, err := conn.readRequest()
		if err != nil {
			return
		}
		if !s.dispatch(ctx, conn, dev, reqHeader, payload) {
			return
		}
	}
}

func (s *Server) handshake(conn *serverConn) (DeviceOps, bool) {
	reqHeader, payload, err := conn.readRequest()
	if err != nil || reqHeader.Opcode != OpConnect {
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, nil)
		return nil, false
	}
	connectString, err := decodeConnectString(payload)
	if err != nil {
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, nil)
		return nil, false
	}
	dev, ok := s.resolve(connectString)
	if !ok {
		conn.writeResponse(ResponseHeader{Status: StatusErrorConnRefused}, nil)
		return nil, false
	}
	conn.writeResponse(ResponseHeader{Status: StatusOK}, nil)
	return dev, true
}

func (s *Server) dispatch(ctx context.Context, conn *serverConn, dev DeviceOps, req RequestHeader, payload []byte) bool {
	switch req.Opcode {
	case OpInfo:
		var capFlags uint32
		if _, ok := dev.(ScsiHandler); ok {
			capFlags |= infoFlagSupportsSCSI
		}
		if _, ok := dev.(SharedHandler); ok {
			capFlags |= infoFlagSupportsShared
		}
		buf := make([]byte, 20)
		putInfo(buf, Info{FileSize: dev.Size(), RequiredAlignment: dev.RequiredAlignment(), Flags: capFlags})
		conn.writeResponse(ResponseHeader{Status: StatusOK, BytesXferred: uint64(len(buf))}, buf)
	case OpRead:
		buf := make([]byte, req.Length)
		n, err := dev.ReadAt(ctx, req.Offset, buf)
		if err != nil {
			conn.writeResponse(ResponseHeader{Status: StatusErrorIO}, nil)
			return false
		}
		conn.writeResponse(ResponseHeader{Status: StatusOK, BytesXferred: uint64(n)}, buf[:n])
	case OpWrite:
		n, err := dev.WriteAt(ctx, req.Offset, payload)
		if err != nil {
			conn.writeResponse(ResponseHeader{Status: StatusErrorIO}, nil)
			return false
		}
		conn.writeResponse(ResponseHeader{Status: StatusOK, BytesXferred: uint64(n)}, nil)
	case OpUnmap:
		if err := dev.Unmap(ctx, req.Offset, req.Length); err != nil {
			conn.writeResponse(ResponseHeader{Status: StatusErrorIO}, nil)
			return false
		}
		conn.writeResponse(ResponseHeader{Status: StatusOK}, nil)
	case OpZero:
		if err := dev.ZeroFill(ctx, req.Offset, req.Length); err != nil {
			conn.writeResponse(ResponseHeader{Status: StatusErrorIO}, nil)
			return false
		}
		conn.writeResponse(ResponseHeader{Status: StatusOK}, nil)
	case OpSCSI:
		return s.dispatchSCSI(ctx, conn, dev, payload)
	case OpShared:
		return s.dispatchShared(ctx, conn, dev, payload)
	case OpClose:
		conn.writeResponse(ResponseHeader{Status: StatusOK}, nil)
		return false
	default:
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, nil)
		return false
	}
	return true
}

// dispatchSCSI forwards a SCSI request to dev if it implements
// ScsiHandler, always replying with exactly sreq.MaxResponseLength bytes
// of payload so the client's fixed-size read completes regardless of
// outcome (spec.md §6 "SCSI").
func (s *Server) dispatchSCSI(ctx context.Context, conn *serverConn, dev DeviceOps, payload []byte) bool {
	sreq := unmarshalScsiRequest(payload)
	reqData := payload[scsiRequestHeaderSize:]
	out := make([]byte, sreq.MaxResponseLength)

	handler, ok := dev.(ScsiHandler)
	if !ok {
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, out)
		return true
	}
	resp, err := handler.SCSI(ctx, sreq.CDB, reqData, sreq.MaxResponseLength)
	if err != nil {
		conn.writeResponse(ResponseHeader{Status: StatusErrorIO}, out)
		return true
	}
	n := copy(out, resp)
	conn.writeResponse(ResponseHeader{Status: StatusOK, BytesXferred: uint64(n)}, out)
	return true
}

// dispatchShared forwards a SHARED request to dev if it implements
// SharedHandler, always replying with a full sharedResponseSize payload
// so the client's fixed-size read completes regardless of outcome
// (spec.md §6 "SHARED").
func (s *Server) dispatchShared(ctx context.Context, conn *serverConn, dev DeviceOps, payload []byte) bool {
	sreq := unmarshalSharedRequest(payload)

	handler, ok := dev.(SharedHandler)
	if !ok {
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, marshalSharedResponse(SharedResponse{}))
		return true
	}
	resp, err := handler.Shared(ctx, sreq)
	if err != nil {
		conn.writeResponse(ResponseHeader{Status: StatusErrorInvalid}, marshalSharedResponse(resp))
		return true
	}
	conn.writeResponse(ResponseHeader{Status: StatusOK}, marshalSharedResponse(resp))
	return true
}

// serverConn is the server side's framing counterpart to byteStreamConn.
type serverConn struct {
	nc net.Conn
}

func (c *serverConn) readRequest() (RequestHeader, []byte, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(c.nc, hdrBuf); err != nil {
		return RequestHeader{}, nil, err
	}
	h := unmarshalRequestHeader(hdrBuf)
	// READ, UNMAP and ZERO use Length for the byte range itself and
	// carry no payload.
	if h.Opcode == OpRead || h.Opcode == OpUnmap || h.Opcode == OpZero || h.Length == 0 {
		return h, nil, nil
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(c.nc, payload); err != nil {
		return RequestHeader{}, nil, err
	}
	return h, payload, nil
}

func (c *serverConn) writeResponse(h ResponseHeader, payload []byte) error {
	if _, err := c.nc.Write(h.marshal()); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.nc.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
