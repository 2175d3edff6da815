package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"
)

// byteStreamConn is the duplex-channel transport: requests and responses
// are written back-to-back (header, then payload) over an ordered
// connection such as TCP or a serial line (spec.md §4.2 "Byte-stream
// transport"). Only one request may be in flight at a time per
// connection, so callers serialize through callMu.
type byteStreamConn struct {
	nc     net.Conn
	r      *bufio.Reader
	callMu sync.Mutex
}

func dialByteStream(ctx context.Context, addr string) (*byteStreamConn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newErr(KindConnectionRefused, "byte-stream dial", err)
	}
	return &byteStreamConn{nc: nc, r: bufio.NewReaderSize(nc, 64*1024)}, nil
}

// call writes reqHeader+reqPayload and reads back a ResponseHeader plus a
// payload of exactly respPayloadLen bytes into respPayload[:respPayloadLen].
func (c *byteStreamConn) call(ctx context.Context, reqHeader RequestHeader, reqPayload []byte, respPayload []byte, respPayloadLen int) (ResponseHeader, int, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
		defer c.nc.SetDeadline(time.Time{})
	}

	if _, err := c.nc.Write(reqHeader.marshal()); err != nil {
		return ResponseHeader{}, 0, newErr(KindIO, "byte-stream write header", err)
	}
	if len(reqPayload) > 0 {
		if _, err := c.nc.Write(reqPayload); err != nil {
			return ResponseHeader{}, 0, newErr(KindIO, "byte-stream write payload", err)
		}
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(c.r, hdrBuf); err != nil {
		if ctx.Err() != nil {
			return ResponseHeader{}, 0, newErr(KindCancelled, "byte-stream read header", ctx.Err())
		}
		return ResponseHeader{}, 0, newErr(KindIO, "byte-stream read header", err)
	}
	respHeader := unmarshalResponseHeader(hdrBuf)

	n := respPayloadLen
	if n > 0 {
		if n > len(respPayload) {
			return respHeader, 0, newErr(KindInvalidParameter, "byte-stream response overflow", nil)
		}
		if _, err := io.ReadFull(c.r, respPayload[:n]); err != nil {
			return respHeader, 0, newErr(KindIO, "byte-stream read payload", err)
		}
	}

	return respHeader, n, nil
}

func (c *byteStreamConn) Close() error {
	return c.nc.Close()
}
