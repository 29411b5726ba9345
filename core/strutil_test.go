package core

import "testing"

func TestNumberFormatting(t *testing.T) {
	for _, tc := range []struct {
		got, want string
	}{
		{itoa(0), "0"},
		{itoa(-7), "-7"},
		{itoa(4096), "4096"},
		{itoa(-2147483648), "-2147483648"},
		{utoa(4294967295), "4294967295"},
		{hex8(0xA5), "0xa5"},
		{hex32(0x1AA), "0x000001aa"},
	} {
		if tc.got != tc.want {
			t.Errorf("got %q, expected %q", tc.got, tc.want)
		}
	}
}
