package engine

import (
	"context"
	"sync"

	"github.com/dsmmcken/vdisk/internal/proxy"
)

// reservationState is the SCSI-3-style persistent-reservation table kept
// for a device created with FlagSharedImage (spec.md §4.2, §6 "SHARED"):
// any number of channel keys may register, but at most one may hold the
// reservation at a time.
type reservationState struct {
	mu         sync.Mutex
	uniqueID   [16]byte
	registered map[uint64]struct{}
	holder     uint64
	reserved   bool
	scope      uint64
	typ        uint64
}

func newReservationState(id [16]byte) *reservationState {
	return &reservationState{uniqueID: id, registered: make(map[uint64]struct{})}
}

// SCSI forwards cdb to the backend if it implements ScsiPassthrough
// (spec.md §4.2, §6 "SCSI"); devices without a real SCSI target behind
// them reject the request as unsupported.
func (d *Device) SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error) {
	sp, ok := d.Backend.(ScsiPassthrough)
	if !ok {
		return nil, newErr(KindInvalidParameter, "scsi: backend has no pass-through", nil)
	}
	return sp.SCSI(ctx, cdb, reqData, maxRespLength)
}

// Shared executes one persistent-reservation operation against the
// device's reservation table (spec.md §4.2, §6 "SHARED"). Only devices
// created with FlagSharedImage carry a reservation table; any other
// device rejects every SHARED operation as unsupported.
func (d *Device) Shared(ctx context.Context, req proxy.SharedRequest) (proxy.SharedResponse, error) {
	r := d.reservation
	if r == nil {
		return proxy.SharedResponse{ErrorNo: proxy.SharedInvalidParameter},
			newErr(KindInvalidParameter, "shared: device is not a shared image", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch req.Op {
	case proxy.SharedGetUniqueID:
		return proxy.SharedResponse{UniqueID: r.uniqueID}, nil

	case proxy.SharedReadKeys:
		resp := proxy.SharedResponse{Length: uint64(len(r.registered))}
		if r.reserved {
			resp.ReservationKey = r.holder
			resp.ReservationScope = r.scope
			resp.ReservationType = r.typ
		}
		return resp, nil

	case proxy.SharedRegister:
		if req.OperationChannelKey == 0 {
			delete(r.registered, req.CurrentChannelKey)
		} else {
			r.registered[req.OperationChannelKey] = struct{}{}
		}
		return proxy.SharedResponse{ChannelKey: req.OperationChannelKey}, nil

	case proxy.SharedClearKeys:
		r.registered = make(map[uint64]struct{})
		r.reserved = false
		r.holder = 0
		return proxy.SharedResponse{}, nil

	case proxy.SharedReserve:
		if _, ok := r.registered[req.CurrentChannelKey]; !ok {
			return proxy.SharedResponse{ErrorNo: proxy.SharedInvalidParameter},
				newErr(KindInvalidParameter, "shared reserve: unregistered key", nil)
		}
		if r.reserved && r.holder != req.CurrentChannelKey {
			return proxy.SharedResponse{ErrorNo: proxy.SharedReservationCollision}, nil
		}
		r.reserved = true
		r.holder = req.CurrentChannelKey
		r.scope = req.ReserveScope
		r.typ = req.ReserveType
		return proxy.SharedResponse{ReservationKey: r.holder, ReservationScope: r.scope, ReservationType: r.typ}, nil

	case proxy.SharedRelease:
		if r.reserved && r.holder == req.CurrentChannelKey {
			r.reserved = false
			r.holder = 0
		}
		return proxy.SharedResponse{}, nil

	case proxy.SharedPreempt:
		if _, ok := r.registered[req.CurrentChannelKey]; !ok {
			return proxy.SharedResponse{ErrorNo: proxy.SharedInvalidParameter},
				newErr(KindInvalidParameter, "shared preempt: unregistered key", nil)
		}
		delete(r.registered, req.ExistingReservationKey)
		r.reserved = true
		r.holder = req.CurrentChannelKey
		r.scope = req.ReserveScope
		r.typ = req.ReserveType
		return proxy.SharedResponse{ReservationKey: r.holder, ReservationScope: r.scope, ReservationType: r.typ}, nil

	default:
		return proxy.SharedResponse{ErrorNo: proxy.SharedInvalidParameter},
			newErr(KindInvalidParameter, "shared: unknown operation code", nil)
	}
}
