package scsi

import "testing"

func TestCdbLen(t *testing.T) {
	cases := []struct {
		opcode byte
		want   int
	}{
		{0x00, 6},
		{0x1f, 6},
		{0x08, 6},
		{0x28, 10},
		{0x5f, 10},
		{0x88, 16},
		{0x9f, 16},
		{0xa0, 12},
		{0xbf, 12},
		{0xff, 6},
	}
	for _, c := range cases {
		if got := CdbLen(c.opcode); got != c.want {
			t.Errorf("CdbLen(%#x) = %d, want %d", c.opcode, got, c.want)
		}
	}
}
