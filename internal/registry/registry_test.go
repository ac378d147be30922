package registry

import (
	"testing"

	"github.com/rascsi-go/rascsi/internal/device"
)

type fakeDisk struct {
	device.Base
}

func newFakeDevice() device.Device {
	d := &fakeDisk{Base: device.NewBase(device.TypeSCSIHD, device.Capabilities{}, nil, nil)}
	return d
}

func (f *fakeDisk) Dispatch(ex *device.Exchange, opcode byte) error {
	return f.DispatchPrimary(ex, opcode)
}

// The registry itself doesn't enforce the LUN-0-first invariant (I1) — that
// is the control executor's job, over registry.HasLUN0 — so AttachDevice
// must accept whatever LUN it's handed.
func TestAttachDeviceDoesNotEnforceLUNZeroFirst(t *testing.T) {
	r := New(nil)
	if err := r.AttachDevice(0, 1, newFakeDevice()); err != nil {
		t.Fatalf("AttachDevice(0, 1, ...) = %v, want nil", err)
	}
	if _, ok := r.DeviceAt(0, 1); !ok {
		t.Fatalf("registry.AttachDevice should have attached lun 1 unconditionally")
	}
}

func TestReserveRejectsConflictingOwner(t *testing.T) {
	var tests = []struct {
		desc    string
		setup   func(r *Registry)
		id, lun int
		wantErr bool
	}{
		{
			desc:    "first reservation succeeds",
			setup:   func(r *Registry) {},
			id:      0, lun: 0,
			wantErr: false,
		},
		{
			desc: "same owner re-reserving is idempotent",
			setup: func(r *Registry) {
				_ = r.Reserve("/images/a.hds", 0, 0)
			},
			id: 0, lun: 0,
			wantErr: false,
		},
		{
			desc: "different owner is rejected",
			setup: func(r *Registry) {
				_ = r.Reserve("/images/a.hds", 0, 0)
			},
			id: 1, lun: 0,
			wantErr: true,
		},
	}

	for i, tt := range tests {
		r := New(nil)
		tt.setup(r)
		err := r.Reserve("/images/a.hds", tt.id, tt.lun)
		if (err != nil) != tt.wantErr {
			t.Fatalf("[%02d] test %q: err = %v, wantErr %v", i, tt.desc, err, tt.wantErr)
		}
	}
}

func TestSnapshotRestoreRollsBackReservations(t *testing.T) {
	r := New(nil)
	if err := r.Reserve("/images/a.hds", 0, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	snap := r.Snapshot()
	if err := r.Reserve("/images/b.hds", 1, 0); err != nil {
		t.Fatalf("reserve b: %v", err)
	}
	r.Restore(snap)
	if _, ok := r.IsReservedPath("/images/b.hds"); ok {
		t.Fatalf("restore should have dropped the post-snapshot reservation")
	}
	if _, ok := r.IsReservedPath("/images/a.hds"); !ok {
		t.Fatalf("restore should have kept the pre-snapshot reservation")
	}
}
