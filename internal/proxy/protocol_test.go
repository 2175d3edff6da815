package proxy

import "testing"

func TestRequestHeaderRoundTrip(t *testing.T) {
	h := RequestHeader{Opcode: OpWrite, Flags: 7, Offset: 1 << 40, Length: 4096}
	got := unmarshalRequestHeader(h.marshal())
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := ResponseHeader{Status: StatusErrorCancelled, Flags: 1, BytesXferred: 512}
	got := unmarshalResponseHeader(h.marshal())
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestInfoRoundTrip(t *testing.T) {
	info := Info{FileSize: 123456789, RequiredAlignment: 512, Flags: 0xABCD}
	buf := make([]byte, 20)
	putInfo(buf, info)
	got := unmarshalInfo(buf)
	if got != info {
		t.Fatalf("got %+v, want %+v", got, info)
	}
}

func TestStatusToKind(t *testing.T) {
	tests := map[Status]Kind{
		StatusErrorInvalid:     KindInvalidParameter,
		StatusErrorIO:          KindIO,
		StatusErrorConnRefused: KindConnectionRefused,
		StatusErrorCancelled:   KindCancelled,
	}
	for status, want := range tests {
		if got := statusToKind(status); got != want {
			t.Errorf("statusToKind(%v) = %v, want %v", status, got, want)
		}
	}
}

func TestEncodeDecodeConnectString(t *testing.T) {
	want := "disk-0"
	encoded, err := encodeConnectString(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeConnectString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
