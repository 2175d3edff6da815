package engine

// The read cache is a single (offset, length, buffer) entry guarded by its
// own lock, distinct from the request-queue lock, so cache hits never wait
// behind queued-I/O progress (spec.md §4.5 "Read cache", §5 "Shared
// resources").

// cacheLookup returns a copy of the cached bytes for (offset, length) if
// the cache currently holds exactly that range, and whether it was a hit.
func (d *Device) cacheLookup(offset, length uint64) ([]byte, bool) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if !d.cache.valid || d.cache.offset != offset || d.cache.length != length {
		return nil, false
	}
	out := make([]byte, len(d.cache.data))
	copy(out, d.cache.data)
	return out, true
}

// cacheStore populates the cache with bytes just read from the backend.
func (d *Device) cacheStore(offset, length uint64, data []byte) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	d.cache = cacheEntry{valid: true, offset: offset, length: length, data: buf}
}

// cacheInvalidateIfOverlap drops the cache if [offset, offset+length)
// overlaps the cached range. Called before every write (spec.md §3
// "Invariants", §4.5 "Read cache").
func (d *Device) cacheInvalidateIfOverlap(offset, length uint64) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if !d.cache.valid {
		return
	}
	if rangesOverlap(offset, length, d.cache.offset, d.cache.length) {
		d.cache = cacheEntry{}
	}
}

func rangesOverlap(aOff, aLen, bOff, bLen uint64) bool {
	if aLen == 0 || bLen == 0 {
		return false
	}
	aEnd := aOff + aLen
	bEnd := bOff + bLen
	return aOff < bEnd && bOff < aEnd
}
