package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rascsi-go/rascsi/internal/registry"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(nil)
	images := NewImageManager(dir)
	return NewExecutor(reg, images, "", nil), dir
}

func TestAttachRejectsLUNBeforeZero(t *testing.T) {
	exec, dir := newTestExecutor(t)
	path := filepath.Join(dir, "disk.hds")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	res := exec.ProcessCommand(Command{
		Operation: OpAttach,
		Devices:   []DeviceSpec{{ID: 0, LUN: 1, Filename: "disk.hds"}},
	})
	if res.Status {
		t.Fatalf("attaching lun 1 before lun 0 should fail")
	}
	if res.Error != ErrLUN0 {
		t.Fatalf("error = %v, want ErrLUN0", res.Error)
	}
}

func TestAttachDetachRoundTrip(t *testing.T) {
	exec, dir := newTestExecutor(t)
	path := filepath.Join(dir, "disk.hds")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	var tests = []struct {
		desc      string
		op        Operation
		devices   []DeviceSpec
		wantOK    bool
	}{
		{
			desc:   "attach lun 0",
			op:     OpAttach,
			devices: []DeviceSpec{{ID: 0, LUN: 0, Filename: "disk.hds"}},
			wantOK: true,
		},
		{
			desc:   "duplicate attach at same id/lun fails",
			op:     OpAttach,
			devices: []DeviceSpec{{ID: 0, LUN: 0, Filename: "disk.hds"}},
			wantOK: false,
		},
		{
			desc:   "detach lun 0",
			op:     OpDetach,
			devices: []DeviceSpec{{ID: 0, LUN: 0}},
			wantOK: true,
		},
		{
			desc:   "detach again fails, no such unit",
			op:     OpDetach,
			devices: []DeviceSpec{{ID: 0, LUN: 0}},
			wantOK: false,
		},
	}

	for i, tt := range tests {
		res := exec.ProcessCommand(Command{Operation: tt.op, Devices: tt.devices})
		if res.Status != tt.wantOK {
			t.Fatalf("[%02d] test %q: status = %v, want %v (msg: %s)", i, tt.desc, res.Status, tt.wantOK, res.Message)
		}
	}
}

func TestDetachRejectsLUNZeroWhileOtherLUNsRemain(t *testing.T) {
	exec, dir := newTestExecutor(t)
	path := filepath.Join(dir, "disk.hds")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}
	other := filepath.Join(dir, "disk2.hds")
	if err := os.WriteFile(other, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	attach := exec.ProcessCommand(Command{
		Operation: OpAttach,
		Devices: []DeviceSpec{
			{ID: 0, LUN: 0, Filename: "disk.hds"},
			{ID: 0, LUN: 1, Filename: "disk2.hds"},
		},
	})
	if !attach.Status {
		t.Fatalf("attach failed: %s", attach.Message)
	}

	res := exec.ProcessCommand(Command{
		Operation: OpDetach,
		Devices:   []DeviceSpec{{ID: 0, LUN: 0}},
	})
	if res.Status {
		t.Fatalf("detaching lun 0 while lun 1 remains attached should fail")
	}
	if res.Error != ErrLUN0 {
		t.Fatalf("error = %v, want ErrLUN0", res.Error)
	}

	// Detaching lun 1 first, then lun 0, should succeed.
	if r := exec.ProcessCommand(Command{Operation: OpDetach, Devices: []DeviceSpec{{ID: 0, LUN: 1}}}); !r.Status {
		t.Fatalf("detach lun 1 failed: %s", r.Message)
	}
	if r := exec.ProcessCommand(Command{Operation: OpDetach, Devices: []DeviceSpec{{ID: 0, LUN: 0}}}); !r.Status {
		t.Fatalf("detach lun 0 after lun 1 was removed failed: %s", r.Message)
	}
}

func TestCreateImageErrorMessageIsLocalized(t *testing.T) {
	exec, _ := newTestExecutor(t)

	de := exec.ProcessCommand(Command{Operation: OpCreateImage, Locale: "de"})
	if de.Status {
		t.Fatalf("creating an image with no filename should fail")
	}
	if want := "Fehlender Dateiname"; de.Message != want {
		t.Fatalf("de message = %q, want %q", de.Message, want)
	}

	en := exec.ProcessCommand(Command{Operation: OpCreateImage, Locale: "en"})
	if en.Status || en.Message != "Missing filename" {
		t.Fatalf("en message = %q, want %q", en.Message, "Missing filename")
	}

	none := exec.ProcessCommand(Command{Operation: OpCreateImage})
	if none.Status || none.Message != "Missing filename" {
		t.Fatalf("empty-locale message = %q, want the en default", none.Message)
	}

	// A non-cataloged error code (the missing-folder failure, whose
	// ErrInvalidArgument code has no catalog entry) still falls back to the
	// plain English fmt.Sprintf rendering regardless of locale.
	deFolder := exec.ProcessCommand(Command{Operation: OpDefaultFolder, Locale: "de"})
	if deFolder.Status || deFolder.Message != "missing folder" {
		t.Fatalf("uncataloged error message = %q, want the literal fmt.Sprintf text", deFolder.Message)
	}
}

func TestAttachWithBlockSize(t *testing.T) {
	var tests = []struct {
		desc      string
		blockSize int
		wantOK    bool
	}{
		{desc: "default block size", blockSize: 0, wantOK: true},
		{desc: "2048-byte sectors", blockSize: 2048, wantOK: true},
		{desc: "non-standard byte count rejected", blockSize: 600, wantOK: false},
	}

	for i, tt := range tests {
		exec, dir := newTestExecutor(t)
		path := filepath.Join(dir, "disk.hds")
		if err := os.WriteFile(path, make([]byte, 8192), 0644); err != nil {
			t.Fatalf("[%02d] test %q, write fixture image: %v", i, tt.desc, err)
		}

		res := exec.ProcessCommand(Command{
			Operation: OpAttach,
			Devices:   []DeviceSpec{{ID: 0, LUN: 0, Filename: "disk.hds", BlockSize: tt.blockSize}},
		})
		if res.Status != tt.wantOK {
			t.Fatalf("[%02d] test %q: status = %v, want %v (msg: %s)", i, tt.desc, res.Status, tt.wantOK, res.Message)
		}
		if tt.wantOK && tt.blockSize != 0 {
			if len(res.Devices) != 1 || res.Devices[0].BlockSize != tt.blockSize {
				t.Fatalf("[%02d] test %q: attached block size = %+v, want %d", i, tt.desc, res.Devices, tt.blockSize)
			}
		}
	}
}

func TestAttachSameImageTwiceIsRejected(t *testing.T) {
	exec, dir := newTestExecutor(t)
	path := filepath.Join(dir, "shared.hds")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	first := exec.ProcessCommand(Command{
		Operation: OpAttach,
		Devices:   []DeviceSpec{{ID: 0, LUN: 0, Filename: "shared.hds"}},
	})
	if !first.Status {
		t.Fatalf("first attach failed: %s", first.Message)
	}

	second := exec.ProcessCommand(Command{
		Operation: OpAttach,
		Devices:   []DeviceSpec{{ID: 1, LUN: 0, Filename: "shared.hds"}},
	})
	if second.Status {
		t.Fatalf("second attach to the same image from a different owner should fail")
	}
}
