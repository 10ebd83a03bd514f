// Package arch describes the target architecture a loaded address space is
// composed for: word size, endianness, canonical name, and the default
// library search paths used by the dependency resolver.
package arch

import "encoding/binary"

// Endian identifies byte order.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// Arch is an architecture descriptor. Two descriptors are compatible for
// loading only when they compare equal.
type Arch struct {
	// Name is the canonical architecture name, e.g. "amd64", "arm64", "i386".
	Name string
	// Bits is the word size in bits.
	Bits int
	// Endian is the byte order used by this architecture.
	Endian Endian
	// QemuName names the qemu-user binary used by the external-tool backend's
	// companion tooling (e.g. "qemu-aarch64"). Empty when not applicable.
	QemuName string
	// defaultLibPaths are searched, in order, after custom_ld_path, ".", and
	// the main binary's directory.
	defaultLibPaths []string
}

// Equal reports whether two architecture descriptors describe the same
// architecture. This is the sole compatibility check the resolver and
// loader use.
func (a Arch) Equal(b Arch) bool {
	return a.Name == b.Name && a.Bits == b.Bits && a.Endian == b.Endian
}

// LibraryPaths returns the default library search directories for this
// architecture, in priority order.
func (a Arch) LibraryPaths() []string {
	out := make([]string, len(a.defaultLibPaths))
	copy(out, a.defaultLibPaths)
	return out
}

// ByteOrder returns the binary.ByteOrder implied by Endian, for backends
// that need to decode multi-byte fields.
func (a Arch) ByteOrder() binary.ByteOrder {
	if a.Endian == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Well-known architecture descriptors.
var (
	AMD64Linux = Arch{
		Name:     "amd64",
		Bits:     64,
		Endian:   LittleEndian,
		QemuName: "qemu-x86_64",
		defaultLibPaths: []string{
			"/lib/x86_64-linux-gnu",
			"/usr/lib/x86_64-linux-gnu",
			"/lib64",
			"/usr/lib64",
			"/lib",
			"/usr/lib",
		},
	}

	ARM64Linux = Arch{
		Name:     "arm64",
		Bits:     64,
		Endian:   LittleEndian,
		QemuName: "qemu-aarch64",
		defaultLibPaths: []string{
			"/lib/aarch64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/lib",
			"/usr/lib",
		},
	}

	I386Linux = Arch{
		Name:     "i386",
		Bits:     32,
		Endian:   LittleEndian,
		QemuName: "qemu-i386",
		defaultLibPaths: []string{
			"/lib/i386-linux-gnu",
			"/usr/lib/i386-linux-gnu",
			"/lib",
			"/usr/lib",
		},
	}

	// Unknown is the zero-value descriptor for backends (e.g. blob) that
	// carry no architecture information of their own; it is never equal to
	// anything but itself, so a blob never satisfies another image's
	// dependency on the filesystem-search path (it can still be loaded as
	// main or a forced library).
	Unknown = Arch{Name: "unknown"}
)

// Named returns the well-known descriptor for a canonical name, if any.
func Named(name string) (Arch, bool) {
	switch name {
	case AMD64Linux.Name:
		return AMD64Linux, true
	case ARM64Linux.Name:
		return ARM64Linux, true
	case I386Linux.Name:
		return I386Linux, true
	default:
		return Arch{}, false
	}
}
