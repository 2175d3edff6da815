package engine

import "context"

// queueDepth bounds the FIFO request channel for queued-I/O devices
// (spec.md §4.5 "Queued-I/O path"). A full queue applies backpressure to
// Submit rather than growing without bound.
const queueDepth = 256

// startWorker launches the single worker goroutine that drains
// requestQueue in order, completing each Request before starting the
// next (spec.md §4.5: "single worker goroutine, FIFO channel, in-order
// completion"). Call once, from the device factory, for queued-I/O
// devices only.
func (d *Device) startWorker() {
	d.requestQueue = make(chan *Request, queueDepth)
	d.workerDone = make(chan struct{})
	d.terminate = make(chan struct{})
	go d.runWorker()
}

func (d *Device) runWorker() {
	defer close(d.workerDone)
	for {
		select {
		case req := <-d.requestQueue:
			d.execute(req)
		case <-d.terminate:
			d.drainWithCancelled()
			return
		}
	}
}

// drainWithCancelled completes every request still sitting in the queue
// with KindCancelled rather than silently discarding it (spec.md §4.5
// "drain-with-Cancelled on teardown").
func (d *Device) drainWithCancelled() {
	for {
		select {
		case req := <-d.requestQueue:
			req.Complete(0, newErr(KindCancelled, "device teardown", nil))
		default:
			return
		}
	}
}

// Submit enqueues req for a queued-I/O device, or executes it
// immediately in the caller's own goroutine for a parallel-I/O device
// (spec.md §4.5). req.Complete is always invoked exactly once.
func (d *Device) Submit(req *Request) {
	if d.IsParallel() {
		d.execute(req)
		return
	}
	select {
	case d.requestQueue <- req:
		// A send that races Stop can land after the worker's drain; once
		// the worker has exited, cancel whatever is still queued.
		select {
		case <-d.terminate:
			<-d.workerDone
			d.drainWithCancelled()
		default:
		}
	case <-d.terminate:
		req.Complete(0, newErr(KindCancelled, "device teardown", nil))
	}
}

// Stop signals the worker to drain and exit, and blocks until it has
// (spec.md §4.5, §4.6 "Registry" teardown). It is a no-op for
// parallel-I/O devices, which have no worker to stop.
func (d *Device) Stop() {
	if d.IsParallel() {
		return
	}
	d.closeOnce.Do(func() {
		close(d.terminate)
	})
	<-d.workerDone
}

// execute dispatches a single Request to the backend, applying the read
// cache, write-overlap invalidation, byte-swap and zero-fill/unmap
// emulation described in spec.md §4.5.
func (d *Device) execute(req *Request) {
	switch req.Op {
	case OpRead:
		d.executeRead(req)
	case OpWrite:
		d.executeWrite(req)
	case OpFlush:
		err := d.Backend.Flush(req.Ctx)
		req.Complete(0, err)
	case OpUnmap:
		d.executeUnmap(req)
	case OpZero:
		d.executeZero(req)
	default:
		req.Complete(0, newErr(KindInvalidParameter, "unsupported request op", nil))
	}
}

func (d *Device) executeRead(req *Request) {
	if cached, ok := d.cacheLookup(req.Offset, req.Length); ok {
		n := copy(req.Buffer, cached)
		if d.Flags.ByteSwap() {
			byteSwap16(req.Buffer[:n])
		}
		req.Complete(n, nil)
		return
	}
	n, err := d.Backend.ReadAt(req.Ctx, req.Offset, req.Buffer)
	if err != nil {
		req.Complete(n, err)
		return
	}
	d.cacheStore(req.Offset, req.Length, req.Buffer[:n])
	if d.Flags.ByteSwap() {
		byteSwap16(req.Buffer[:n])
	}
	req.Complete(n, nil)
}

func (d *Device) executeWrite(req *Request) {
	if d.Flags.ReadOnly() {
		req.Complete(0, newErr(KindAccessDenied, "write to read-only device", nil))
		return
	}
	d.cacheInvalidateIfOverlap(req.Offset, req.Length)
	buf := req.Buffer
	if d.Flags.ByteSwap() {
		buf = append([]byte(nil), buf...)
		byteSwap16(buf)
	}
	n, err := d.Backend.WriteAt(req.Ctx, req.Offset, buf)
	if err == nil {
		d.dirty.Store(true)
	}
	req.Complete(n, err)
}

func (d *Device) executeUnmap(req *Request) {
	err := d.Backend.Unmap(req.Ctx, req.Ranges)
	if IsUnsupported(err) {
		err = d.emulateZeroFill(req.Ctx, req.Ranges)
	}
	for _, r := range req.Ranges {
		d.cacheInvalidateIfOverlap(r.Offset, r.Length)
	}
	req.Complete(0, err)
}

func (d *Device) executeZero(req *Request) {
	err := d.Backend.ZeroFill(req.Ctx, req.Ranges)
	if IsUnsupported(err) {
		err = d.emulateZeroFill(req.Ctx, req.Ranges)
	}
	for _, r := range req.Ranges {
		d.cacheInvalidateIfOverlap(r.Offset, r.Length)
	}
	req.Complete(0, err)
}

// emulateZeroFill writes explicit zero buffers when the backend has no
// native unmap/zero-fill support, unless noFileLevelTrim has latched
// (spec.md §4.5 "Zero-fill and unmap").
func (d *Device) emulateZeroFill(ctx context.Context, ranges []Range) error {
	if d.noFileLevelTrim.Load() {
		return nil
	}
	const chunk = 64 * 1024
	zeros := make([]byte, chunk)
	for _, r := range ranges {
		remaining := r.Length
		offset := r.Offset
		for remaining > 0 {
			n := uint64(chunk)
			if remaining < n {
				n = remaining
			}
			if _, err := d.Backend.WriteAt(ctx, offset, zeros[:n]); err != nil {
				d.noFileLevelTrim.Store(true)
				return err
			}
			offset += n
			remaining -= n
		}
	}
	return nil
}
