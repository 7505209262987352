package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

const (
	segment32Size = 56
	segment64Size = 72
	section32Size = 68
	section64Size = 80
)

// LoadCommand records where a load command sits inside the image buffer.
type LoadCommand struct {
	Cmd    types.LoadCmd
	Len    uint32
	Offset uint64 // offset of the command inside Image.Bytes()
}

// Symtab is the LC_SYMTAB command.
type Symtab struct {
	types.SymtabCmd
}

// Dysymtab is the LC_DYSYMTAB command.
type Dysymtab struct {
	types.DysymtabCmd
}

// DyldInfo is the LC_DYLD_INFO or LC_DYLD_INFO_ONLY command.
type DyldInfo struct {
	types.DyldInfoCmd
}

// NewImage parses the mach header found at headerOffset inside buf.
//
// All file offsets recorded in the load commands are interpreted relative to
// the start of buf, which is how both standalone files and images resident in
// an old-style dyld_shared_cache are laid out.
func NewImage(buf []byte, headerOffset uint64, name string) (*Image, error) {
	img := &Image{
		Name:      name,
		buf:       buf,
		hdrOffset: headerOffset,
	}

	if headerOffset > uint64(len(buf)) || uint64(len(buf))-headerOffset < types.FileHeaderSize32 {
		return nil, &FormatError{int64(headerOffset), "truncated mach header", nil}
	}
	hdr := buf[headerOffset:]

	// Read and decode Mach magic to determine byte order, size.
	// Magic32 and Magic64 differ only in the bottom bit.
	be := binary.BigEndian.Uint32(hdr[0:])
	le := binary.LittleEndian.Uint32(hdr[0:])
	switch uint32(types.Magic32) &^ 1 {
	case be &^ 1:
		img.ByteOrder = binary.BigEndian
		img.Magic = types.Magic(be)
	case le &^ 1:
		img.ByteOrder = binary.LittleEndian
		img.Magic = types.Magic(le)
	default:
		return nil, &FormatError{int64(headerOffset), "invalid magic number", le}
	}

	bo := img.ByteOrder
	img.CPU = types.CPU(bo.Uint32(hdr[4:]))
	img.SubCPU = types.CPUSubtype(bo.Uint32(hdr[8:]))
	img.Type = types.HeaderFileType(bo.Uint32(hdr[12:]))
	img.NCommands = bo.Uint32(hdr[16:])
	img.SizeCommands = bo.Uint32(hdr[20:])
	img.Flags = types.HeaderFlag(bo.Uint32(hdr[24:]))

	offset := headerOffset + types.FileHeaderSize32
	if img.Is64() {
		if uint64(len(hdr)) < types.FileHeaderSize64 {
			return nil, &FormatError{int64(headerOffset), "truncated mach header", nil}
		}
		offset = headerOffset + types.FileHeaderSize64
	}
	if uint64(img.SizeCommands) > uint64(len(buf))-offset {
		return nil, &FormatError{int64(offset), "load commands overrun buffer", img.SizeCommands}
	}

	dat := buf[offset : offset+uint64(img.SizeCommands)]
	for n := uint32(0); n < img.NCommands; n++ {
		// Each load command begins with uint32 command and length.
		if len(dat) < 8 {
			return nil, &FormatError{int64(offset), "command block too small", nil}
		}
		cmd, siz := types.LoadCmd(bo.Uint32(dat[0:4])), bo.Uint32(dat[4:8])
		if siz < 8 || siz > uint32(len(dat)) {
			return nil, &FormatError{int64(offset), "invalid command block size", siz}
		}
		var cmddat []byte
		cmddat, dat = dat[0:siz], dat[siz:]

		img.loads = append(img.loads, &LoadCommand{Cmd: cmd, Len: siz, Offset: offset})

		var err error
		switch cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			err = img.parseSegment(cmd, cmddat, offset)
		case types.LC_SYMTAB:
			var st Symtab
			err = readCommand(cmddat, bo, &st.SymtabCmd, offset)
			img.symtab = &st
		case types.LC_DYSYMTAB:
			var dst Dysymtab
			err = readCommand(cmddat, bo, &dst.DysymtabCmd, offset)
			img.dysymtab = &dst
		case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
			var di DyldInfo
			err = readCommand(cmddat, bo, &di.DyldInfoCmd, offset)
			img.dyldInfo = &di
		case types.LC_REEXPORT_DYLIB:
			var path string
			path, err = commandString(cmddat, bo, offset)
			img.reexports = append(img.reexports, path)
		}
		if err != nil {
			return nil, err
		}
		offset += uint64(siz)
	}

	return img, nil
}

func readCommand(cmddat []byte, bo binary.ByteOrder, cmd any, offset uint64) error {
	if binary.Size(cmd) > len(cmddat) {
		return &FormatError{int64(offset), "load command too small", len(cmddat)}
	}
	return binary.Read(bytes.NewReader(cmddat), bo, cmd)
}

// commandString reads the lc_str referenced by a dylib-style load command;
// the string must be NUL terminated before the end of the command.
func commandString(cmddat []byte, bo binary.ByteOrder, cmdOffset uint64) (string, error) {
	if len(cmddat) < 12 {
		return "", &FormatError{int64(cmdOffset), "load command too small", len(cmddat)}
	}
	off := bo.Uint32(cmddat[8:])
	if off < 12 || off >= uint32(len(cmddat)) {
		return "", &FormatError{int64(cmdOffset), "invalid lc_str offset", off}
	}
	s := cmddat[off:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return "", &FormatError{int64(cmdOffset), "unterminated lc_str", nil}
	}
	return string(s[:end]), nil
}

func (i *Image) parseSegment(cmd types.LoadCmd, cmddat []byte, offset uint64) error {
	bo := i.ByteOrder
	seg := &Segment{image: i, cmdOffset: offset, is64: cmd == types.LC_SEGMENT_64}

	var nsect uint32
	hdrSize, sectSize := uint64(segment32Size), uint64(section32Size)
	if seg.is64 {
		var s64 types.Segment64
		if err := readCommand(cmddat, bo, &s64, offset); err != nil {
			return err
		}
		seg.Name = cstring(s64.Name[:])
		seg.Addr, seg.Memsz = s64.Addr, s64.Memsz
		seg.Offset, seg.Filesz = s64.Offset, s64.Filesz
		seg.Maxprot, seg.Prot = uint32(s64.Maxprot), uint32(s64.Prot)
		nsect = s64.Nsect
		hdrSize, sectSize = segment64Size, section64Size
	} else {
		var s32 types.Segment32
		if err := readCommand(cmddat, bo, &s32, offset); err != nil {
			return err
		}
		seg.Name = cstring(s32.Name[:])
		seg.Addr, seg.Memsz = uint64(s32.Addr), uint64(s32.Memsz)
		seg.Offset, seg.Filesz = uint64(s32.Offset), uint64(s32.Filesz)
		seg.Maxprot, seg.Prot = uint32(s32.Maxprot), uint32(s32.Prot)
		nsect = s32.Nsect
	}

	if uint64(nsect) > (uint64(len(cmddat))-hdrSize)/sectSize {
		return &FormatError{int64(offset), "too many sections for segment command", nsect}
	}
	for n := uint64(0); n < uint64(nsect); n++ {
		sh := cmddat[hdrSize+n*sectSize:]
		sect := &Section{
			Name:      cstring(sh[0:16]),
			Seg:       cstring(sh[16:32]),
			image:     i,
			hdrOffset: offset + hdrSize + n*sectSize,
			is64:      seg.is64,
		}
		if seg.is64 {
			sect.Addr = bo.Uint64(sh[32:])
			sect.Size = bo.Uint64(sh[40:])
			sect.Offset = bo.Uint32(sh[48:])
			sect.Align = bo.Uint32(sh[52:])
			sect.Reloff = bo.Uint32(sh[56:])
			sect.Nreloc = bo.Uint32(sh[60:])
			sect.Flags = types.SectionFlag(bo.Uint32(sh[64:]))
			sect.Reserved1 = bo.Uint32(sh[68:])
			sect.Reserved2 = bo.Uint32(sh[72:])
		} else {
			sect.Addr = uint64(bo.Uint32(sh[32:]))
			sect.Size = uint64(bo.Uint32(sh[36:]))
			sect.Offset = bo.Uint32(sh[40:])
			sect.Align = bo.Uint32(sh[44:])
			sect.Reloff = bo.Uint32(sh[48:])
			sect.Nreloc = bo.Uint32(sh[52:])
			sect.Flags = types.SectionFlag(bo.Uint32(sh[56:]))
			sect.Reserved1 = bo.Uint32(sh[60:])
			sect.Reserved2 = bo.Uint32(sh[64:])
		}
		seg.Sections = append(seg.Sections, sect)
	}

	i.segments = append(i.segments, seg)
	return nil
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}
