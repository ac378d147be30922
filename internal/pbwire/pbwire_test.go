package pbwire

import "testing"

func TestCommandRoundTrip(t *testing.T) {
	var tests = []struct {
		desc string
		cmd  Command
	}{
		{
			desc: "no devices, no params",
			cmd:  Command{Operation: 20},
		},
		{
			desc: "attach with params and identity",
			cmd: Command{
				Operation: 0,
				Params:    []Param{{Key: "token", Value: "secret"}},
				Devices: []Device{
					{
						ID: 3, Unit: 1, Type: 1,
						BlockSize: 512,
						File:      "/home/pi/images/disk.hds",
						Vendor:    "RaSCSI",
						Product:   "SCSI HD",
						Revision:  "0123",
						Protected: true,
						Params:    []Param{{Key: "interleave", Value: "1"}},
					},
				},
			},
		},
	}

	for i, tt := range tests {
		wire := MarshalCommand(tt.cmd)
		got, err := UnmarshalCommand(wire)
		if err != nil {
			t.Fatalf("[%02d] test %q, unmarshal failed: %v", i, tt.desc, err)
		}
		if got.Operation != tt.cmd.Operation {
			t.Fatalf("[%02d] test %q, operation = %d, want %d", i, tt.desc, got.Operation, tt.cmd.Operation)
		}
		if len(got.Devices) != len(tt.cmd.Devices) {
			t.Fatalf("[%02d] test %q, got %d devices, want %d", i, tt.desc, len(got.Devices), len(tt.cmd.Devices))
		}
		for j, d := range got.Devices {
			want := tt.cmd.Devices[j]
			if d.ID != want.ID || d.Unit != want.Unit || d.File != want.File || d.Protected != want.Protected {
				t.Fatalf("[%02d] test %q, device %d round-trip mismatch: got %+v, want %+v", i, tt.desc, j, d, want)
			}
		}
	}
}

func TestResultRoundTrip(t *testing.T) {
	r := Result{
		Status:  false,
		Error:   7,
		Message: "image already in use",
		Devices: []Device{{ID: 0, Unit: 0}},
	}
	got, err := UnmarshalResult(MarshalResult(r))
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Status != r.Status || got.Error != r.Error || got.Message != r.Message {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}
