package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/dsmmcken/vdisk/internal/proxy"
)

func newSharedTestDevice() *Device {
	return &Device{reservation: newReservationState([16]byte{0xAA, 0xBB})}
}

func TestDeviceSharedRejectsNonSharedDevice(t *testing.T) {
	dev := &Device{}
	_, err := dev.Shared(context.Background(), proxy.SharedRequest{Op: proxy.SharedGetUniqueID})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindInvalidParameter {
		t.Fatalf("got err=%v, want KindInvalidParameter", err)
	}
}

func TestDeviceSharedGetUniqueID(t *testing.T) {
	dev := newSharedTestDevice()
	resp, err := dev.Shared(context.Background(), proxy.SharedRequest{Op: proxy.SharedGetUniqueID})
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	if resp.UniqueID != [16]byte{0xAA, 0xBB} {
		t.Errorf("UniqueID = %v, want [0xAA 0xBB ...]", resp.UniqueID)
	}
}

func TestDeviceSharedRegisterThenReserveThenRelease(t *testing.T) {
	dev := newSharedTestDevice()
	ctx := context.Background()

	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedRegister, OperationChannelKey: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 1, ReserveScope: 2, ReserveType: 3})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if resp.ReservationKey != 1 || resp.ReservationScope != 2 || resp.ReservationType != 3 {
		t.Errorf("reserve resp = %+v, want key=1 scope=2 type=3", resp)
	}

	keys, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReadKeys})
	if err != nil {
		t.Fatalf("read keys: %v", err)
	}
	if keys.Length != 1 || keys.ReservationKey != 1 {
		t.Errorf("read keys = %+v, want length=1 reservation_key=1", keys)
	}

	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedRelease, CurrentChannelKey: 1}); err != nil {
		t.Fatalf("release: %v", err)
	}
	after, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReadKeys})
	if err != nil {
		t.Fatalf("read keys after release: %v", err)
	}
	if after.ReservationKey != 0 {
		t.Errorf("ReservationKey after release = %d, want 0", after.ReservationKey)
	}
}

func TestDeviceSharedReserveCollisionFromAnotherKey(t *testing.T) {
	dev := newSharedTestDevice()
	ctx := context.Background()
	for _, key := range []uint64{1, 2} {
		if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedRegister, OperationChannelKey: key}); err != nil {
			t.Fatalf("register %d: %v", key, err)
		}
	}
	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 1}); err != nil {
		t.Fatalf("reserve by 1: %v", err)
	}

	resp, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 2})
	if err != nil {
		t.Fatalf("reserve by 2: %v", err)
	}
	if resp.ErrorNo != proxy.SharedReservationCollision {
		t.Errorf("ErrorNo = %v, want SharedReservationCollision", resp.ErrorNo)
	}
}

func TestDeviceSharedReserveRejectsUnregisteredKey(t *testing.T) {
	dev := newSharedTestDevice()
	resp, err := dev.Shared(context.Background(), proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 99})
	if err == nil {
		t.Fatal("expected error for unregistered key")
	}
	if resp.ErrorNo != proxy.SharedInvalidParameter {
		t.Errorf("ErrorNo = %v, want SharedInvalidParameter", resp.ErrorNo)
	}
}

func TestDeviceSharedPreemptTransfersReservation(t *testing.T) {
	dev := newSharedTestDevice()
	ctx := context.Background()
	for _, key := range []uint64{1, 2} {
		if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedRegister, OperationChannelKey: key}); err != nil {
			t.Fatalf("register %d: %v", key, err)
		}
	}
	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 1}); err != nil {
		t.Fatalf("reserve by 1: %v", err)
	}

	resp, err := dev.Shared(ctx, proxy.SharedRequest{
		Op:                     proxy.SharedPreempt,
		CurrentChannelKey:      2,
		ExistingReservationKey: 1,
	})
	if err != nil {
		t.Fatalf("preempt: %v", err)
	}
	if resp.ReservationKey != 2 {
		t.Errorf("ReservationKey after preempt = %d, want 2", resp.ReservationKey)
	}

	keys, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReadKeys})
	if err != nil {
		t.Fatalf("read keys: %v", err)
	}
	if keys.Length != 1 {
		t.Errorf("registered key count = %d, want 1 (key 1 evicted)", keys.Length)
	}
}

func TestDeviceSharedClearKeys(t *testing.T) {
	dev := newSharedTestDevice()
	ctx := context.Background()
	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedRegister, OperationChannelKey: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReserve, CurrentChannelKey: 1}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedClearKeys}); err != nil {
		t.Fatalf("clear keys: %v", err)
	}
	keys, err := dev.Shared(ctx, proxy.SharedRequest{Op: proxy.SharedReadKeys})
	if err != nil {
		t.Fatalf("read keys: %v", err)
	}
	if keys.Length != 0 || keys.ReservationKey != 0 {
		t.Errorf("after clear = %+v, want all zero", keys)
	}
}

func TestDeviceSCSIRejectsBackendWithoutPassthrough(t *testing.T) {
	dev := &Device{Backend: &memoryBackend{region: make([]byte, 4096)}}
	_, err := dev.SCSI(context.Background(), [16]byte{}, nil, 8)
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindInvalidParameter {
		t.Fatalf("got err=%v, want KindInvalidParameter", err)
	}
}
