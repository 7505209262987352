package macho_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/relink/internal/machotest"
	"github.com/blacktop/relink/pkg/macho"
)

func sampleFile() *machotest.File {
	return &machotest.File{
		Segments: []machotest.Segment{
			{
				Name: "__TEXT", Addr: 0x1000, Data: make([]byte, 0x100), Prot: 5,
				Sections: []machotest.Section{
					{Name: "__text", Addr: 0x1000, Size: 0x80},
					{Name: "__symbol_stub4", Addr: 0x1080, Size: 0x18, Type: types.SymbolStubs, Reserved1: 1, Reserved2: 0xc},
				},
			},
			{
				Name: "__DATA", Addr: 0x2000, VMSize: 0x200, Data: make([]byte, 0x100), Prot: 3,
				Sections: []machotest.Section{
					{Name: "__nl_symbol_ptr", Addr: 0x2000, Size: 4, Type: types.NonLazySymbolPointers},
				},
			},
		},
		Symbols: []machotest.Symbol{
			{Name: "_local", Type: types.N_SECT, Sect: 1, Value: 0x1000},
			{Name: "_arm", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1010},
			{Name: "_thumb", Type: types.N_SECT | types.N_EXT, Sect: 1, Desc: types.ARM_THUMB_DEF, Value: 0x1020},
			{Name: "_abs", Type: types.N_ABS | types.N_EXT, Value: 0x1234},
			{Name: "_undef", Type: types.N_EXT},
			{Name: "_arm", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1030},
			{Name: "_stab", Type: 0x24 | types.N_EXT, Value: 0x1040},
		},
		Indirect:  []uint32{types.INDIRECT_SYMBOL_LOCAL, 4, 4},
		Reexports: []string{"/usr/lib/libobjc.A.dylib"},
	}
}

func TestNewImage(t *testing.T) {
	buf, l := sampleFile().Build()
	img, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}

	if img.Is64() || img.PointerSize() != 4 {
		t.Errorf("Is64() = %v, PointerSize() = %d, want 32-bit", img.Is64(), img.PointerSize())
	}
	if img.ByteOrder != binary.LittleEndian {
		t.Errorf("ByteOrder = %v, want little endian", img.ByteOrder)
	}
	if got := len(img.Loads()); got != 5 {
		t.Errorf("len(Loads()) = %d, want 5", got)
	}

	segs := img.Segments()
	if len(segs) != 2 {
		t.Fatalf("len(Segments()) = %d, want 2", len(segs))
	}
	data := img.Segment("__DATA")
	if data == nil {
		t.Fatal("Segment(__DATA) = nil")
	}
	if data.Addr != 0x2000 || data.Memsz != 0x200 || data.Filesz != 0x100 || data.Offset != l.SegmentOffsets[1] {
		t.Errorf("__DATA = %s", data)
	}
	if !data.Writable() || segs[0].Writable() {
		t.Errorf("Writable() = %v/%v, want false/true", segs[0].Writable(), data.Writable())
	}
	if data.Mapped() != 0x100 {
		t.Errorf("Mapped() = %#x, want 0x100", data.Mapped())
	}

	stubs := segs[0].Sections[1]
	if stubs.Name != "__symbol_stub4" || stubs.Seg != "__TEXT" || stubs.Type() != types.SymbolStubs || stubs.Reserved2 != 0xc {
		t.Errorf("stub section = %+v", stubs)
	}
	if !stubs.HasIndirectSymbols() || segs[0].Sections[0].HasIndirectSymbols() {
		t.Errorf("HasIndirectSymbols() mismatch")
	}
	if got := stubs.Type().String(); got != "SymbolStubs" {
		t.Errorf("SectionFlag.String() = %q", got)
	}

	if img.Symtab() == nil || img.Symtab().Nsyms != 7 {
		t.Errorf("Symtab() = %+v", img.Symtab())
	}
	if dst := img.Dysymtab(); dst == nil || dst.Nindirectsyms != 3 || uint64(dst.Indirectsymoff) != l.IndirectOff {
		t.Errorf("Dysymtab() = %+v", dst)
	}
	if img.DyldInfo() != nil {
		t.Errorf("DyldInfo() = %+v, want nil", img.DyldInfo())
	}
	if re := img.Reexports(); len(re) != 1 || re[0] != "/usr/lib/libobjc.A.dylib" {
		t.Errorf("Reexports() = %v", re)
	}

	n, err := img.Symbol(2)
	if err != nil {
		t.Fatalf("Symbol(2) error = %v", err)
	}
	if name, _ := img.SymbolName(n); name != "_thumb" || !n.Desc.IsArmThumbDefintion() {
		t.Errorf("Symbol(2) = %q %+v", name, n)
	}
	if _, err := img.Symbol(7); !errors.Is(err, macho.ErrOutOfRange) {
		t.Errorf("Symbol(7) error = %v, want ErrOutOfRange", err)
	}
}

func TestNewImageErrors(t *testing.T) {
	good, _ := (&machotest.File{Segments: []machotest.Segment{{Name: "__TEXT", Addr: 0x1000, Data: make([]byte, 0x10)}}}).Build()

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 0; return b }},
		{"truncated header", func(b []byte) []byte { return b[:20] }},
		{"load commands overrun", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[20:], 0x100000); return b }},
		{"too many commands", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[16:], 40); return b }},
		{"command size zero", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[28+4:], 0); return b }},
		{"too many sections", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[28+48:], 3); return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), good...))
			if _, err := macho.NewImage(b, 0, "bad"); err == nil {
				t.Errorf("NewImage() error = nil, want failure")
			}
		})
	}

	if _, err := macho.NewImage(good, uint64(len(good))+1, "bad"); err == nil {
		t.Errorf("NewImage() past the buffer succeeded")
	}
}

func TestNewImage64(t *testing.T) {
	f := sampleFile()
	f.Is64 = true
	buf, _ := f.Build()
	img, err := macho.NewImage(buf, 0, "sample64")
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	if !img.Is64() || img.PointerSize() != 8 {
		t.Errorf("Is64() = %v, PointerSize() = %d", img.Is64(), img.PointerSize())
	}
	if got := img.LookupSymbol("_thumb"); got != 0x1021 {
		t.Errorf("LookupSymbol(_thumb) = %#x, want 0x1021", got)
	}
	if got := img.Segments()[1].Sections[0].Addr; got != 0x2000 {
		t.Errorf("section addr = %#x", got)
	}
}

func TestTranslate(t *testing.T) {
	buf, l := sampleFile().Build()
	img, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	size := uint64(len(buf))

	tests := []struct {
		name    string
		addr    uint64
		size    uint64
		opt     macho.TranslateOption
		wantOff uint64
		wantErr bool
	}{
		{name: "segment start", addr: 0x1000, size: 4, wantOff: l.SegmentOffsets[0]},
		{name: "segment end", addr: 0x10fc, size: 4, wantOff: l.SegmentOffsets[0] + 0xfc},
		{name: "second segment", addr: 0x2010, size: 8, wantOff: l.SegmentOffsets[1] + 0x10},
		{name: "straddles end", addr: 0x10fe, size: 4, wantErr: true},
		{name: "zerofill tail", addr: 0x2100, size: 4, wantErr: true},
		{name: "unmapped", addr: 0x3000, size: 4, wantErr: true},
		{name: "below image", addr: 0x10, size: 4, wantErr: true},
		{name: "empty", addr: 0x1000, size: 0, wantErr: true},
		{name: "empty allowed", addr: 0x1000, size: 0, opt: macho.AllowEmpty, wantOff: l.SegmentOffsets[0]},
		{name: "huge", addr: 0x1000, size: ^uint64(0), wantErr: true},
		{name: "file offset", addr: size - 4, size: 4, opt: macho.ByFileOffset, wantOff: size - 4},
		{name: "file offset past end", addr: size - 2, size: 4, opt: macho.ByFileOffset, wantErr: true},
		{name: "file offset at end", addr: size, size: 0, opt: macho.ByFileOffset | macho.AllowEmpty, wantErr: true},
		{name: "file offset wraps", addr: 8, size: ^uint64(0) - 4, opt: macho.ByFileOffset, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := img.Translate(tt.addr, tt.size, tt.opt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Translate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, macho.ErrOutOfRange) {
					t.Errorf("Translate() error = %v, want ErrOutOfRange", err)
				}
				return
			}
			if uint64(len(got)) != tt.size || uint64(cap(got)) != tt.size {
				t.Errorf("Translate() len/cap = %d/%d, want %d", len(got), cap(got), tt.size)
			}
			if tt.size > 0 {
				got[0] = 0xaa
				if buf[tt.wantOff] != 0xaa {
					t.Errorf("Translate() window does not alias buffer offset %#x", tt.wantOff)
				}
				got[0] = 0
			}
		})
	}

	if !img.Contains(0x1080) || img.Contains(0x2150) || img.Contains(0) {
		t.Errorf("Contains() mismatch")
	}
}

func TestLookupSymbol(t *testing.T) {
	buf, _ := sampleFile().Build()
	img, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want uint64
	}{
		{"_arm", 0x1010},
		{"_thumb", 0x1021},
		{"_abs", 0x1234},
		{"_local", 0},
		{"_undef", 0},
		{"_stab", 0},
		{"_missing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := img.LookupSymbol(tt.name); got != tt.want {
				t.Errorf("LookupSymbol() = %#x, want %#x", got, tt.want)
			}
		})
	}
	if err := img.SymbolIndexError(); err != nil {
		t.Errorf("SymbolIndexError() = %v", err)
	}
}

func TestLookupSymbolExtdefRange(t *testing.T) {
	buf, _ := sampleFile().Build()
	img, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	for _, lc := range img.Loads() {
		if lc.Cmd == types.LC_DYSYMTAB {
			binary.LittleEndian.PutUint32(buf[lc.Offset+16:], 2) // iextdefsym
			binary.LittleEndian.PutUint32(buf[lc.Offset+20:], 2) // nextdefsym
		}
	}
	img, err = macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	if got := img.LookupSymbol("_thumb"); got != 0x1021 {
		t.Errorf("LookupSymbol(_thumb) = %#x, want 0x1021", got)
	}
	if got := img.LookupSymbol("_arm"); got != 0 {
		t.Errorf("LookupSymbol(_arm) = %#x, want 0 outside the extdef range", got)
	}
}

func TestRelocBase(t *testing.T) {
	segs := []machotest.Segment{
		{Name: "__TEXT", Addr: 0x1000, Data: make([]byte, 0x10), Prot: 5},
		{Name: "__DATA", Addr: 0x2000, Data: make([]byte, 0x10), Prot: 3},
	}
	tests := []struct {
		name    string
		file    machotest.File
		want    uint64
		wantErr bool
	}{
		{"first segment", machotest.File{Segments: segs}, 0x1000, false},
		{"x86_64", machotest.File{Segments: segs, CPU: types.CPUAmd64}, 0x2000, false},
		{"split segs", machotest.File{Segments: segs, Flags: types.SplitSegs}, 0x2000, false},
		{"no writable segment", machotest.File{Segments: segs[:1], Flags: types.SplitSegs}, 0, true},
		{"no segments", machotest.File{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, _ := tt.file.Build()
			img, err := macho.NewImage(buf, 0, tt.name)
			if err != nil {
				t.Fatal(err)
			}
			got, err := img.RelocBase()
			if (err != nil) != tt.wantErr {
				t.Fatalf("RelocBase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RelocBase() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestSetAddr(t *testing.T) {
	buf, _ := sampleFile().Build()
	img, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	seg := img.Segment("__DATA")
	if err := seg.SetAddr(0x9000); err != nil {
		t.Fatalf("Segment.SetAddr() error = %v", err)
	}
	if err := seg.Sections[0].SetAddr(0x9000); err != nil {
		t.Fatalf("Section.SetAddr() error = %v", err)
	}
	if err := seg.SetAddr(0x100000000); err == nil {
		t.Errorf("Segment.SetAddr() accepted a 33-bit address in a 32-bit image")
	}

	again, err := macho.NewImage(buf, 0, "sample")
	if err != nil {
		t.Fatal(err)
	}
	if got := again.Segment("__DATA"); got.Addr != 0x9000 || got.Sections[0].Addr != 0x9000 {
		t.Errorf("after SetAddr: segment %#x, section %#x", got.Addr, got.Sections[0].Addr)
	}
	if got := again.Segment("__TEXT").Addr; got != 0x1000 {
		t.Errorf("__TEXT moved to %#x", got)
	}
}

func TestRelocationInfo(t *testing.T) {
	r := macho.RelocationInfo{Address: 0x10, SymbolNum: 5, PCRel: true, Length: 2, Extern: true, Type: types.ARM_RELOC_BR24}
	tests := []struct {
		name string
		bo   binary.ByteOrder
		word uint32
	}{
		{"little endian", binary.LittleEndian, 0x5d000005},
		{"big endian", binary.BigEndian, 0x000005d5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, macho.RelocationSize)
			r.Encode(b, tt.bo)
			if got := tt.bo.Uint32(b[4:]); got != tt.word {
				t.Errorf("Encode() word = %#08x, want %#08x", got, tt.word)
			}
			if got := macho.DecodeRelocation(b, tt.bo); got != r {
				t.Errorf("DecodeRelocation() = %+v, want %+v", got, r)
			}
		})
	}

	b := make([]byte, macho.RelocationSize)
	binary.LittleEndian.PutUint32(b, 0x80000010)
	if got := macho.DecodeRelocation(b, binary.LittleEndian); !got.Scattered || got.Address != 0x10 {
		t.Errorf("DecodeRelocation() = %+v, want scattered entry at 0x10", got)
	}
	if !(macho.RelocationInfo{Address: 0, SymbolNum: 3}).Applied() || r.Applied() {
		t.Errorf("Applied() mismatch")
	}
	if got := types.ARM_RELOC_BR24.String(); got != "ARM_RELOC_BR24" {
		t.Errorf("String() = %q", got)
	}
}
