package dyld

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/relink/internal/machotest"
)

const cacheBase = 0x30000000

func dylib(addr uint64, sym string, reexports ...string) *machotest.File {
	return &machotest.File{
		Segments: []machotest.Segment{{Name: "__TEXT", Addr: addr, Data: make([]byte, 0x20), Prot: 5}},
		Symbols: []machotest.Symbol{
			{Name: sym, Type: types.N_SECT | types.N_EXT, Sect: 1, Value: addr},
		},
		Reexports: reexports,
	}
}

func sampleCache() *machotest.Cache {
	return &machotest.Cache{
		Base: cacheBase,
		Images: []machotest.CacheImage{
			{Path: "/System/Library/Frameworks/Foundation.framework/Foundation", File: dylib(0x31000000, "_NSLog", "/usr/lib/libobjc.A.dylib", "/usr/lib/libSystem.B.dylib")},
			{Path: "/usr/lib/libobjc.A.dylib", File: dylib(0x32000000, "_objc_msgSend")},
			{Path: "/usr/lib/libSystem.B.dylib", File: dylib(0x33000000, "_malloc", "/usr/lib/system/libsystem_c.dylib")},
			{Path: "/usr/lib/system/libsystem_c.dylib", File: dylib(0x34000000, "_strlen", "/usr/lib/libSystem.B.dylib")},
		},
	}
}

func TestNewFile(t *testing.T) {
	buf, cl := sampleCache().Build()
	f, err := NewFile(buf)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if got := f.Magic.Arch(); got != "armv7" {
		t.Errorf("Arch() = %q, want armv7", got)
	}
	if len(f.Mappings) != 1 || f.Mappings[0].Name != "__TEXT" || f.Mappings[0].Address != cacheBase {
		t.Errorf("Mappings = %+v", f.Mappings)
	}
	if len(f.Images) != 4 {
		t.Fatalf("len(Images) = %d, want 4", len(f.Images))
	}
	if f.Images[1].Name != "/usr/lib/libobjc.A.dylib" || f.Images[1].Index != 1 {
		t.Errorf("Images[1] = %+v", f.Images[1])
	}

	off, err := f.GetOffset(f.Images[2].Info.Address)
	if err != nil || off != cl.HeaderOffsets[2] {
		t.Errorf("GetOffset() = %#x, %v, want %#x", off, err, cl.HeaderOffsets[2])
	}
	addr, err := f.GetVMAddress(cl.HeaderOffsets[2])
	if err != nil || addr != f.Images[2].Info.Address {
		t.Errorf("GetVMAddress() = %#x, %v", addr, err)
	}
	if _, err := f.GetOffset(cacheBase - 1); err == nil {
		t.Errorf("GetOffset() below the cache succeeded")
	}
}

func TestNewFileErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:30] }},
		{"bad magic", func(b []byte) []byte { copy(b, "notdyld"); return b }},
		{"unknown arch", func(b []byte) []byte { copy(b, "dyld_v1    i386\x00"); return b }},
		{"too many mappings", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[20:], 1001); return b }},
		{"too many images", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[28:], 1001); return b }},
		{"mapping table outside", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[16:], uint32(len(b))); return b }},
		{"mapping past end", func(b []byte) []byte { binary.LittleEndian.PutUint64(b[40+8:], uint64(len(b))+1); return b }},
		{"image path past end", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[72+24:], uint32(len(b))); return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, _ := sampleCache().Build()
			if _, err := NewFile(tt.mutate(buf)); err == nil {
				t.Errorf("NewFile() error = nil, want failure")
			}
		})
	}
}

func TestImage(t *testing.T) {
	buf, _ := sampleCache().Build()
	f, err := NewFile(buf)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want int
	}{
		{"/usr/lib/libobjc.A.dylib", 1},
		{"/USR/LIB/LIBOBJC.A.DYLIB", 1},
		{"libSystem.B.dylib", 2},
		{"Foundation", 0},
		{"/usr/lib/libnope.dylib", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := f.Image(tt.name)
			if tt.want < 0 {
				if img != nil {
					t.Errorf("Image() = %s, want nil", img.Name)
				}
				return
			}
			if img == nil || img.Index != uint32(tt.want) {
				t.Errorf("Image() = %+v, want index %d", img, tt.want)
			}
		})
	}
}

func TestGetMachO(t *testing.T) {
	buf, cl := sampleCache().Build()
	f, err := NewFile(buf)
	if err != nil {
		t.Fatal(err)
	}
	m, err := f.GetMachO("/usr/lib/libobjc.A.dylib")
	if err != nil {
		t.Fatalf("GetMachO() error = %v", err)
	}
	if m.HeaderOffset() != cl.HeaderOffsets[1] {
		t.Errorf("HeaderOffset() = %#x, want %#x", m.HeaderOffset(), cl.HeaderOffsets[1])
	}
	if got := m.LookupSymbol("_objc_msgSend"); got != 0x32000000 {
		t.Errorf("LookupSymbol() = %#x", got)
	}

	// the image aliases the cache
	word, err := m.Translate(0x32000000, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	word[0] = 0x42
	if buf[cl.Images[1].SegmentOffsets[0]] != 0x42 {
		t.Errorf("image bytes are not the cache's bytes")
	}

	if _, err := f.GetMachO("/usr/lib/libnope.dylib"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("GetMachO() error = %v, want ErrImageNotFound", err)
	}
}

func TestReexportClosure(t *testing.T) {
	buf, _ := sampleCache().Build()
	f, err := NewFile(buf)
	if err != nil {
		t.Fatal(err)
	}

	closure, err := f.ReexportClosure("/System/Library/Frameworks/Foundation.framework/Foundation")
	if err != nil {
		t.Fatalf("ReexportClosure() error = %v", err)
	}
	want := []string{
		"/System/Library/Frameworks/Foundation.framework/Foundation",
		"/usr/lib/libobjc.A.dylib",
		"/usr/lib/libSystem.B.dylib",
		"/usr/lib/system/libsystem_c.dylib",
	}
	if len(closure) != len(want) {
		t.Fatalf("len(ReexportClosure()) = %d, want %d", len(closure), len(want))
	}
	for i, m := range closure {
		if m.Name != want[i] {
			t.Errorf("closure[%d] = %s, want %s", i, m.Name, want[i])
		}
	}

	closure, err = f.ReexportClosure("/usr/lib/system/libsystem_c.dylib")
	if err != nil {
		t.Fatalf("ReexportClosure() error = %v", err)
	}
	if len(closure) != 2 {
		t.Errorf("len(ReexportClosure()) = %d, want 2 for a re-export cycle", len(closure))
	}

	c := sampleCache()
	c.Images[1].File.Reexports = []string{"/usr/lib/libgone.dylib"}
	buf, _ = c.Build()
	if f, err = NewFile(buf); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReexportClosure("/System/Library/Frameworks/Foundation.framework/Foundation"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("ReexportClosure() error = %v, want ErrImageNotFound", err)
	}
}
