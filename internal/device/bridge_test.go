package device

import "testing"

func TestBridgeSetThenGetMacAddress(t *testing.T) {
	b := NewBridge(nil)

	setCdb := make([]byte, 10)
	setCdb[0] = bridgeCmdSetMacAddress
	sex := &Exchange{CDB: setCdb}
	if err := b.Dispatch(sex, bridgeCmdSetMacAddress); err != nil {
		t.Fatalf("set dispatch failed: %v", err)
	}
	want := []byte{0x02, 0x04, 0x06, 0x08, 0x0a, 0x0c}
	copy(sex.Buffer, want)
	if err := b.XferOut(sex); err != nil {
		t.Fatalf("xfer out failed: %v", err)
	}

	getCdb := make([]byte, 10)
	getCdb[0] = bridgeCmdGetMacAddress
	gex := &Exchange{CDB: getCdb}
	if err := b.Dispatch(gex, bridgeCmdGetMacAddress); err != nil {
		t.Fatalf("get dispatch failed: %v", err)
	}
	if string(gex.Buffer) != string(want) {
		t.Fatalf("mac address round trip mismatch: got %x, want %x", gex.Buffer, want)
	}
}

func TestBridgeSendThenReceivePacket(t *testing.T) {
	var tests = []struct {
		desc string
		recv func(maxLen int) ([]byte, error)
		want []byte
	}{
		{
			desc: "no transport wired, short fixed reply",
			recv: nil,
			want: []byte{0x00, 0x00},
		},
		{
			desc: "transport returns a frame",
			recv: func(int) ([]byte, error) { return []byte{0xde, 0xad, 0xbe, 0xef}, nil },
			want: []byte{0x00, 0x04, 0xde, 0xad, 0xbe, 0xef},
		},
	}

	for i, tt := range tests {
		b := NewBridge(nil)
		b.Recv = tt.recv

		sendCdb := make([]byte, 10)
		sendCdb[0] = bridgeCmdSendPacket
		sendCdb[3] = 0
		sendCdb[4] = 4
		sex := &Exchange{CDB: sendCdb}
		if err := b.Dispatch(sex, bridgeCmdSendPacket); err != nil {
			t.Fatalf("[%02d] test %q, send dispatch failed: %v", i, tt.desc, err)
		}
		if sex.Direction != DirOut || sex.Length != 4 {
			t.Fatalf("[%02d] test %q, send packet exchange = %+v, want 4-byte DirOut", i, tt.desc, sex)
		}

		recvCdb := make([]byte, 10)
		recvCdb[0] = bridgeCmdReceivePacket
		recvCdb[3] = 0
		recvCdb[4] = byte(EthernetFrameBufferSize)
		rex := &Exchange{CDB: recvCdb}
		if err := b.Dispatch(rex, bridgeCmdReceivePacket); err != nil {
			t.Fatalf("[%02d] test %q, receive dispatch failed: %v", i, tt.desc, err)
		}
		if string(rex.Buffer) != string(tt.want) {
			t.Fatalf("[%02d] test %q, receive buffer = %x, want %x", i, tt.desc, rex.Buffer, tt.want)
		}
	}
}

func TestBridgeSendPacketXferOutDoesNotClobberMac(t *testing.T) {
	b := NewBridge(nil)
	want := []byte{0x02, 0x04, 0x06, 0x08, 0x0a, 0x0c}
	copy(b.mac[:], want)

	var sent []byte
	b.Send = func(frame []byte) error {
		sent = frame
		return nil
	}

	sendCdb := make([]byte, 10)
	sendCdb[0] = bridgeCmdSendPacket
	sendCdb[3] = 0
	sendCdb[4] = 3
	sex := &Exchange{CDB: sendCdb}
	if err := b.Dispatch(sex, bridgeCmdSendPacket); err != nil {
		t.Fatalf("send dispatch failed: %v", err)
	}
	copy(sex.Buffer, []byte{0xaa, 0xbb, 0xcc})
	if err := b.XferOut(sex); err != nil {
		t.Fatalf("xfer out failed: %v", err)
	}

	if string(sent) != string([]byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("transport received %x, want the packet payload", sent)
	}
	if b.mac != [6]byte{0x02, 0x04, 0x06, 0x08, 0x0a, 0x0c} {
		t.Fatalf("mac address was clobbered by a send-packet XferOut: got %x, want %x", b.mac, want)
	}
}

func TestBridgeInquiryAppendsTail(t *testing.T) {
	b := NewBridge(nil)
	cdb := []byte{0x12, 0, 0, 0, 36, 0}
	ex := &Exchange{CDB: cdb}
	if err := b.Dispatch(ex, 0x12); err != nil {
		t.Fatalf("inquiry dispatch failed: %v", err)
	}
	if len(ex.Buffer) != 42 {
		t.Fatalf("inquiry reply length = %d, want 42 (36 + 6-byte bridge tail)", len(ex.Buffer))
	}
	if ex.Buffer[36] != 1 {
		t.Fatalf("TAP-enabled byte = %d, want 1", ex.Buffer[36])
	}
}
