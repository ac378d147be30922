package device

import (
	"os"
	"testing"
)

func newAttachedDisk(t *testing.T, size int64) *Disk {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "disk-*.hds")
	if err != nil {
		t.Fatalf("create temp image: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	d := NewDisk(TypeSCSIHD, VariantGeneric, nil)
	if err := d.Attach(f.Name(), false); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return d
}

func TestDiskWriteThenRead(t *testing.T) {
	var tests = []struct {
		desc string
		lba  uint64
		data []byte
	}{
		{
			desc: "single block at lba 0",
			lba:  0,
			data: bytes(512, 0xaa),
		},
		{
			desc: "single block at lba 3",
			lba:  3,
			data: bytes(512, 0x55),
		},
	}

	for i, tt := range tests {
		d := newAttachedDisk(t, 16*512)

		writeCdb := make([]byte, 10)
		writeCdb[0] = 0x2a // WRITE(10)
		writeCdb[2] = byte(tt.lba >> 24)
		writeCdb[3] = byte(tt.lba >> 16)
		writeCdb[4] = byte(tt.lba >> 8)
		writeCdb[5] = byte(tt.lba)
		writeCdb[8] = 1

		ex := &Exchange{CDB: writeCdb}
		if err := d.Dispatch(ex, 0x2a); err != nil {
			t.Fatalf("[%02d] test %q, write dispatch failed: %v", i, tt.desc, err)
		}
		copy(ex.Buffer, tt.data)
		if err := d.XferOut(ex); err != nil {
			t.Fatalf("[%02d] test %q, xfer out failed: %v", i, tt.desc, err)
		}

		readCdb := make([]byte, 10)
		readCdb[0] = 0x28 // READ(10)
		readCdb[2] = writeCdb[2]
		readCdb[3] = writeCdb[3]
		readCdb[4] = writeCdb[4]
		readCdb[5] = writeCdb[5]
		readCdb[8] = 1

		rex := &Exchange{CDB: readCdb}
		if err := d.Dispatch(rex, 0x28); err != nil {
			t.Fatalf("[%02d] test %q, read dispatch failed: %v", i, tt.desc, err)
		}
		if string(rex.Buffer) != string(tt.data) {
			t.Fatalf("[%02d] test %q, read back mismatch", i, tt.desc)
		}
	}
}

func TestDiskWriteProtected(t *testing.T) {
	d := newAttachedDisk(t, 8*512)
	d.State().Protected = true

	cdb := make([]byte, 10)
	cdb[0] = 0x2a
	cdb[8] = 1
	ex := &Exchange{CDB: cdb}
	if err := d.Dispatch(ex, 0x2a); err == nil {
		t.Fatalf("write on a protected disk should fail")
	}
}

func TestDiskReadAfterMediumChangeReportsUnitAttention(t *testing.T) {
	d := newAttachedDisk(t, 8*512)
	d.State().MediumChanged = true

	cdb := make([]byte, 10)
	cdb[0] = 0x28 // READ(10)
	cdb[8] = 1
	ex := &Exchange{CDB: cdb}
	if err := d.Dispatch(ex, 0x28); err == nil {
		t.Fatalf("read right after a medium change should report unit attention, got nil error")
	}
	if d.State().MediumChanged {
		t.Fatalf("medium-changed flag should be consumed by the first access after it was set")
	}

	// The flag is one-shot: the very next access proceeds normally.
	if err := d.Dispatch(ex, 0x28); err != nil {
		t.Fatalf("second read after the flag was consumed should succeed, got %v", err)
	}
}

func TestDiskEjectRequiresRemovable(t *testing.T) {
	d := newAttachedDisk(t, 8*512) // TypeSCSIHD: not removable
	if d.Eject(false) {
		t.Fatalf("fixed HD should not be ejectable")
	}
}

func bytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}
