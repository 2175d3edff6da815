package proxy

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"
)

// Shared-memory layout (spec.md §4.2 "Shared-memory transport", §6):
// a fixed 4096-byte header area holding the current RequestHeader /
// ResponseHeader, followed by a data area sized to the region minus the
// header. "request"/"response" are modeled here as a pair of eventfds:
// the client bumps reqEventFd after writing the header+payload, the
// server bumps respEventFd after writing its response.
const sharedMemHeaderSize = 4096

type sharedMemConn struct {
	region []byte // mmap'd region: [0,4096) header area, [4096,len) data area

	reqEventFd  int
	respEventFd int
	cancelFd    int // signalled by Close to abort an in-flight Poll

	callMu sync.Mutex
}

func dialSharedMemory(fd int, reqEventFd, respEventFd int, size int) (*sharedMemConn, error) {
	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, newErr(KindIO, "shared-memory mmap", err)
	}
	cancelFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Munmap(region)
		return nil, newErr(KindIO, "shared-memory cancel eventfd", err)
	}
	return &sharedMemConn{
		region:      region,
		reqEventFd:  reqEventFd,
		respEventFd: respEventFd,
		cancelFd:    cancelFd,
	}, nil
}

// call writes reqHeader+reqPayload into the header/data areas, signals
// reqEventFd, then polls respEventFd (or cancelFd / ctx cancellation).
//
// The cancel check happens before signalling the request, not only after
// (ctx is checked again right before the blocking poll): signalling the
// request and then discovering the context was already cancelled would
// leave the server processing a request nobody is waiting for.
func (c *sharedMemConn) call(ctx context.Context, reqHeader RequestHeader, reqPayload []byte, respPayload []byte, respPayloadLen int) (ResponseHeader, int, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if ctx.Err() != nil {
		return ResponseHeader{}, 0, newErr(KindCancelled, "shared-memory call", ctx.Err())
	}

	copy(c.region[0:headerSize], reqHeader.marshal())
	if len(reqPayload) > 0 {
		copy(c.region[sharedMemHeaderSize:], reqPayload)
	}

	if ctx.Err() != nil {
		return ResponseHeader{}, 0, newErr(KindCancelled, "shared-memory call", ctx.Err())
	}
	if err := eventfdSignal(c.reqEventFd); err != nil {
		return ResponseHeader{}, 0, newErr(KindIO, "shared-memory signal request", err)
	}

	if err := c.waitForResponse(ctx); err != nil {
		return ResponseHeader{}, 0, err
	}

	respHeader := unmarshalResponseHeader(c.region[headerSize : 2*headerSize])
	n := respPayloadLen
	if n > 0 {
		if n > len(respPayload) || sharedMemHeaderSize+n > len(c.region) {
			return respHeader, 0, newErr(KindInvalidParameter, "shared-memory response overflow", nil)
		}
		copy(respPayload[:n], c.region[sharedMemHeaderSize:sharedMemHeaderSize+n])
	}
	return respHeader, n, nil
}

// waitForResponse polls respEventFd and cancelFd together so a context
// cancellation or Close unblocks a pending call promptly.
func (c *sharedMemConn) waitForResponse(ctx context.Context) error {
	fds := []unix.PollFd{
		{Fd: int32(c.respEventFd), Events: unix.POLLIN},
		{Fd: int32(c.cancelFd), Events: unix.POLLIN},
	}
	for {
		if ctx.Err() != nil {
			return newErr(KindCancelled, "shared-memory wait", ctx.Err())
		}
		n, err := unix.Poll(fds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return newErr(KindIO, "shared-memory poll", err)
		}
		if n == 0 {
			continue // timeout, re-check ctx
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return newErr(KindCancelled, "shared-memory wait", ctx.Err())
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			eventfdDrain(c.respEventFd)
			return nil
		}
	}
}

func eventfdSignal(fd int) error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(fd, buf)
	return err
}

func eventfdDrain(fd int) {
	buf := make([]byte, 8)
	unix.Read(fd, buf)
}

func (c *sharedMemConn) Close() error {
	eventfdSignal(c.cancelFd)
	unix.Close(c.reqEventFd)
	unix.Close(c.respEventFd)
	unix.Close(c.cancelFd)
	return unix.Munmap(c.region)
}
