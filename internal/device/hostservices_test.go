package device

import (
	"testing"
	"time"
)

func TestHostServicesStartStopSchedulesShutdownMode(t *testing.T) {
	var tests = []struct {
		desc     string
		startBit byte
		loadBit  byte
		wantMode ShutdownMode
		wantErr  bool
	}{
		{desc: "stop, no load -> stop process", startBit: 0, loadBit: 0, wantMode: ShutdownStopProcess},
		{desc: "stop, load -> host shutdown", startBit: 0, loadBit: 1, wantMode: ShutdownHostShutdown},
		{desc: "start, load -> host reboot", startBit: 1, loadBit: 1, wantMode: ShutdownHostReboot},
		{desc: "start, no load -> illegal request", startBit: 1, loadBit: 0, wantErr: true},
	}

	for i, tt := range tests {
		h := NewHostServices(nil)
		cdb := make([]byte, 6)
		cdb[4] = tt.startBit | tt.loadBit<<1
		ex := &Exchange{CDB: cdb}

		err := h.Dispatch(ex, 0x1b) // START STOP UNIT
		if (err != nil) != tt.wantErr {
			t.Fatalf("[%02d] test %q, err = %v, wantErr %v", i, tt.desc, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if ex.Shutdown == nil || *ex.Shutdown != tt.wantMode {
			t.Fatalf("[%02d] test %q, shutdown mode = %v, want %v", i, tt.desc, ex.Shutdown, tt.wantMode)
		}
	}
}

func TestHostServicesModeSenseReturnsDatePage(t *testing.T) {
	h := NewHostServices(nil)
	fixed := time.Date(2026, time.March, 5, 13, 45, 30, 0, time.Local)
	h.now = func() time.Time { return fixed }

	cdb := make([]byte, 6)
	cdb[2] = hostServicesModePage
	ex := &Exchange{CDB: cdb}
	if err := h.Dispatch(ex, 0x1a); err != nil { // MODE SENSE(6)
		t.Fatalf("mode sense dispatch failed: %v", err)
	}
	if len(ex.Buffer) < 10 {
		t.Fatalf("mode sense reply too short: %d bytes", len(ex.Buffer))
	}
	body := ex.Buffer[4:]
	if body[0] != hostServicesModePage {
		t.Fatalf("page code = 0x%02x, want 0x%02x", body[0], hostServicesModePage)
	}
	if body[4] != byte(fixed.Year()-2000) || body[5] != byte(fixed.Month()) || body[6] != byte(fixed.Day()) {
		t.Fatalf("date page = %v, want year/month/day matching %v", body, fixed)
	}
}
