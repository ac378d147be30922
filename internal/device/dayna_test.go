package device

import "testing"

func TestDaynaPortInquiryAppendsVendorByte(t *testing.T) {
	d := NewDaynaPort(nil)
	cdb := []byte{0x12, 0, 0, 0, 36, 0}
	ex := &Exchange{CDB: cdb}
	if err := d.Dispatch(ex, 0x12); err != nil {
		t.Fatalf("inquiry dispatch failed: %v", err)
	}
	if len(ex.Buffer) != 37 {
		t.Fatalf("inquiry reply length = %d, want 37 (36 + vendor byte)", len(ex.Buffer))
	}
	if ex.Buffer[4] != 32 {
		t.Fatalf("additional length byte = %d, want 32 (31 + 1 for the appended vendor byte)", ex.Buffer[4])
	}
}

func TestDaynaPortWriteThenSendsToTransport(t *testing.T) {
	var tests = []struct {
		desc    string
		sendErr error
		wantErr bool
	}{
		{desc: "transport accepts the frame", sendErr: nil, wantErr: false},
		{desc: "transport failure surfaces as a SCSI error", sendErr: errTransport, wantErr: true},
	}

	for i, tt := range tests {
		d := NewDaynaPort(nil)
		var sent []byte
		d.Send = func(frame []byte) error {
			sent = frame
			return tt.sendErr
		}

		cdb := make([]byte, 6)
		cdb[0] = daynaCmdWrite
		cdb[4] = 4
		ex := &Exchange{CDB: cdb}
		if err := d.Dispatch(ex, daynaCmdWrite); err != nil {
			t.Fatalf("[%02d] test %q, write dispatch failed: %v", i, tt.desc, err)
		}
		copy(ex.Buffer, []byte{1, 2, 3, 4})

		err := d.XferOut(ex)
		if (err != nil) != tt.wantErr {
			t.Fatalf("[%02d] test %q, xfer out err = %v, wantErr %v", i, tt.desc, err, tt.wantErr)
		}
		if !tt.wantErr && string(sent) != string([]byte{1, 2, 3, 4}) {
			t.Fatalf("[%02d] test %q, transport received %v, want [1 2 3 4]", i, tt.desc, sent)
		}
	}
}

func TestDaynaPortSetMacAddressXferOutDoesNotHitTransport(t *testing.T) {
	d := NewDaynaPort(nil)
	var sent []byte
	d.Send = func(frame []byte) error {
		sent = frame
		return nil
	}

	cdb := make([]byte, 6)
	cdb[0] = daynaCmdSetMac
	ex := &Exchange{CDB: cdb}
	if err := d.Dispatch(ex, daynaCmdSetMac); err != nil {
		t.Fatalf("set mac dispatch failed: %v", err)
	}
	want := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	copy(ex.Buffer, want)
	if err := d.XferOut(ex); err != nil {
		t.Fatalf("xfer out failed: %v", err)
	}

	if sent != nil {
		t.Fatalf("set-mac-address XferOut should not reach the transport, got %x sent", sent)
	}
	if string(d.mac[:]) != string(want) {
		t.Fatalf("mac address = %x, want %x", d.mac, want)
	}
}

func TestDaynaPortReadPacketWithNoTransport(t *testing.T) {
	d := NewDaynaPort(nil)
	cdb := make([]byte, 6)
	cdb[0] = daynaCmdRead
	ex := &Exchange{CDB: cdb}
	if err := d.Dispatch(ex, daynaCmdRead); err != nil {
		t.Fatalf("read dispatch failed: %v", err)
	}
	if ex.Direction != DirIn || len(ex.Buffer) != 4 {
		t.Fatalf("read packet with no transport wired = %+v, want 4-byte DirIn placeholder", ex)
	}
}

type transportError struct{}

func (transportError) Error() string { return "transport failure" }

var errTransport = transportError{}
