package proxy

import (
	"context"

	"golang.org/x/text/encoding/unicode"
)

// encodeConnectString renders s as UTF-16LE, the wire encoding the CONNECT
// payload uses (spec.md §6 "CONNECT"). This mirrors how Windows clients
// pass the connection string, and is why the dependency is x/text rather
// than a hand-rolled encoder.
func encodeConnectString(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return enc.Bytes([]byte(s))
}

// decodeConnectString is the server side's inverse of encodeConnectString.
func decodeConnectString(b []byte) (string, error) {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// connect performs the CONNECT/CONNECT_RESP exchange over conn, claiming
// the named handle identified by connectString (spec.md §4.2, §6).
// A refused handshake (unknown handle, already claimed, malformed string)
// surfaces as KindConnectionRefused.
func connect(ctx context.Context, c caller, connectString string) error {
	payload, err := encodeConnectString(connectString)
	if err != nil {
		return newErr(KindInvalidParameter, "encode connect string", err)
	}

	reqHeader := RequestHeader{Opcode: OpConnect, Length: uint64(len(payload))}
	respBuf := make([]byte, 0)
	respHeader, _, err := c.call(ctx, reqHeader, payload, respBuf, 0)
	if err != nil {
		return err
	}
	if respHeader.Status != StatusOK {
		return newErr(KindConnectionRefused, "connect", nil)
	}
	return nil
}

// caller is satisfied by both transport connection types; it lets
// connect() and Client share the same call-and-decode shape regardless
// of transport (spec.md §4.2: "symmetric request/response framing").
type caller interface {
	call(ctx context.Context, reqHeader RequestHeader, reqPayload []byte, respPayload []byte, respPayloadLen int) (ResponseHeader, int, error)
}
