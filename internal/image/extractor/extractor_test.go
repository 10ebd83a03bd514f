package extractor

import (
	"reflect"
	"testing"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func TestScanSymLines(t *testing.T) {
	out := []byte(`0000000000001040 T do_work
0000000000002000 t internal_helper
garbage line
0000000000003000 D some_data extra_words
`)
	var got []string
	var addrs []uint64
	scanSymLines(out, func(addr uint64, name string) {
		addrs = append(addrs, addr)
		got = append(got, name)
	})

	wantNames := []string{"do_work", "internal_helper", "some_data extra_words"}
	wantAddrs := []uint64{0x1040, 0x2000, 0x3000}
	if !reflect.DeepEqual(got, wantNames) {
		t.Errorf("names = %v, want %v", got, wantNames)
	}
	if !reflect.DeepEqual(addrs, wantAddrs) {
		t.Errorf("addrs = %v, want %v", addrs, wantAddrs)
	}
}

func TestScanSymLinesSkipsShortLines(t *testing.T) {
	out := []byte("0000000000001040\n0000000000002000 T\n")
	var calls int
	scanSymLines(out, func(addr uint64, name string) { calls++ })
	if calls != 0 {
		t.Errorf("expected 0 callback invocations, got %d", calls)
	}
}

func TestParseNeededLines(t *testing.T) {
	out := []byte(`
Dynamic Section:
  NEEDED               libc.so.6
  NEEDED               libm.so.6
  RUNPATH              /usr/lib
  NEEDED               libpthread.so.0
`)
	got := parseNeededLines(out)
	want := []string{"libc.so.6", "libm.so.6", "libpthread.so.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseNeededLines = %v, want %v", got, want)
	}
}

func TestParseNeededLinesNoMatches(t *testing.T) {
	if got := parseNeededLines([]byte("nothing relevant here\n")); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestRawArchFromOptions(t *testing.T) {
	opts := image.Options{Raw: map[string]any{"arch": "arm64"}}
	if got := rawArch(opts); !got.Equal(arch.ARM64Linux) {
		t.Errorf("rawArch = %v, want ARM64Linux", got)
	}
}

func TestRawArchDefaultsToUnknown(t *testing.T) {
	if got := rawArch(image.Options{}); !got.Equal(arch.Unknown) {
		t.Errorf("rawArch with no Raw options = %v, want Unknown", got)
	}
	opts := image.Options{Raw: map[string]any{"arch": "not-a-real-arch"}}
	if got := rawArch(opts); !got.Equal(arch.Unknown) {
		t.Errorf("rawArch with unrecognized name = %v, want Unknown", got)
	}
}
