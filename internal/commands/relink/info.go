package relink

import (
	"github.com/blacktop/relink/pkg/macho"
)

// SectionInfo describes one section of an image
type SectionInfo struct {
	Name     string `json:"name"`
	Addr     uint64 `json:"addr"`
	Size     uint64 `json:"size"`
	Type     string `json:"type"`
	Relocs   uint32 `json:"relocs,omitempty"`
	Indirect bool   `json:"indirect,omitempty"`
}

// SegmentInfo describes one segment of an image
type SegmentInfo struct {
	Name     string        `json:"name"`
	Addr     uint64        `json:"addr"`
	Memsz    uint64        `json:"memsz"`
	Filesz   uint64        `json:"filesz"`
	Writable bool          `json:"writable,omitempty"`
	Sections []SectionInfo `json:"sections,omitempty"`
}

// Info summarizes the relocation surface of an image
type Info struct {
	Name         string        `json:"name"`
	Arch         string        `json:"arch"`
	Type         string        `json:"type"`
	Is64         bool          `json:"is64"`
	Segments     []SegmentInfo `json:"segments"`
	Symbols      uint32        `json:"symbols"`
	ExtDefs      uint32        `json:"extdefs"`
	LocalRelocs  uint32        `json:"local_relocs"`
	ExternRelocs uint32        `json:"extern_relocs"`
	Indirect     uint32        `json:"indirect_symbols"`
	DyldInfo     bool          `json:"dyld_info"`
	RebaseSize   uint32        `json:"rebase_size,omitempty"`
	BindSize     uint32        `json:"bind_size,omitempty"`
	WeakBindSize uint32        `json:"weak_bind_size,omitempty"`
	LazyBindSize uint32        `json:"lazy_bind_size,omitempty"`
	Reexports    []string      `json:"reexports,omitempty"`
}

// GetInfo returns an Info struct for img
func GetInfo(img *macho.Image) *Info {
	info := &Info{
		Name:      img.Name,
		Arch:      img.SubCPU.String(img.CPU),
		Type:      img.Type.String(),
		Is64:      img.Is64(),
		Reexports: img.Reexports(),
	}
	for _, seg := range img.Segments() {
		si := SegmentInfo{
			Name:     seg.Name,
			Addr:     seg.Addr,
			Memsz:    seg.Memsz,
			Filesz:   seg.Filesz,
			Writable: seg.Writable(),
		}
		for _, sect := range seg.Sections {
			si.Sections = append(si.Sections, SectionInfo{
				Name:     sect.Name,
				Addr:     sect.Addr,
				Size:     sect.Size,
				Type:     sectionType(sect),
				Relocs:   sect.Nreloc,
				Indirect: sect.HasIndirectSymbols(),
			})
		}
		info.Segments = append(info.Segments, si)
	}
	if st := img.Symtab(); st != nil {
		info.Symbols = st.Nsyms
	}
	if dt := img.Dysymtab(); dt != nil {
		info.ExtDefs = dt.Nextdefsym
		info.LocalRelocs = dt.Nlocrel
		info.ExternRelocs = dt.Nextrel
		info.Indirect = dt.Nindirectsyms
	}
	if di := img.DyldInfo(); di != nil {
		info.DyldInfo = true
		info.RebaseSize = di.RebaseSize
		info.BindSize = di.BindSize
		info.WeakBindSize = di.WeakBindSize
		info.LazyBindSize = di.LazyBindSize
	}
	return info
}

// sectionType names the section's type; go-macho leaves S_REGULAR unnamed.
func sectionType(sect *macho.Section) string {
	if sect.Type().IsRegular() {
		return "Regular"
	}
	return sect.Type().String()
}
