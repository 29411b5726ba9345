package core

import "testing"

func TestErrorCodes(t *testing.T) {
	for e := ErrIO; e <= ErrBusNotLocked; e++ {
		if got := ErrorFromCode(ErrorCode(e)); got != e {
			t.Errorf("Code round trip for %v gave %v", e, got)
		}
	}
	if ErrorCode(nil) != 0 || ErrorFromCode(0) != nil {
		t.Error("Zero must mean success")
	}
	if ErrorFromCode(200) != ErrIO {
		t.Error("Unknown codes should map to ErrIO")
	}
}
