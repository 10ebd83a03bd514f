package pe

import "testing"

func TestBasename(t *testing.T) {
	cases := map[string]string{
		`C:\Windows\System32\kernel32.dll`: "kernel32.dll",
		"/opt/wine/drive_c/app.exe":        "app.exe",
		"notepad.exe":                      "notepad.exe",
	}
	for in, want := range cases {
		if got := basename(in); got != want {
			t.Errorf("basename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPreferredBaseIsUint64(t *testing.T) {
	var b PreferredBase = 0x140000000
	if uint64(b) != 0x140000000 {
		t.Errorf("PreferredBase conversion = %#x, want %#x", uint64(b), 0x140000000)
	}
}
