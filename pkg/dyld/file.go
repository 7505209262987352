// Package dyld reads legacy (dyld_v1) dyld_shared_cache files held in memory
// and hands out the Mach-O images they contain.
package dyld

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// ErrImageNotFound is returned when no cache image has the requested path.
var ErrImageNotFound = errors.New("image not found in dyld_shared_cache")

// FormatError is returned by some operations if the data does
// not have the correct format for a dyld_shared_cache.
type FormatError struct {
	off int64
	msg string
	val any
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// A File represents an open dyld_shared_cache.
type File struct {
	CacheHeader
	ByteOrder binary.ByteOrder
	Path      string

	Mappings []*CacheMapping
	Images   []*CacheImage

	buf []byte
}

// Open reads the named cache into memory and parses it.
func Open(name string) (*File, error) {
	dat, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	f, err := NewFile(dat)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", name)
	}
	f.Path = name
	return f, nil
}

// NewFile parses a dyld_shared_cache held in buf. The cache keeps buf and
// every image it hands out aliases it.
func NewFile(buf []byte) (*File, error) {
	f := &File{
		ByteOrder: binary.LittleEndian,
		buf:       buf,
	}

	if len(buf) < headerSize {
		return nil, &FormatError{0, "truncated (no room for dyld cache header)", len(buf)}
	}
	if err := binary.Read(bytes.NewReader(buf), f.ByteOrder, &f.CacheHeader); err != nil {
		return nil, errors.Wrap(err, "failed to read dyld cache header")
	}
	if !strings.HasPrefix(f.Magic.String(), "dyld_") {
		return nil, &FormatError{0, "not a dyld_shared_cache", f.Magic.String()}
	}
	if _, ok := archSubtypes[f.Magic.Arch()]; !ok {
		return nil, &FormatError{0, "unknown processor in magic", f.Magic.String()}
	}

	if f.MappingCount > maxMappings {
		return nil, &FormatError{int64(f.MappingOffset), "insane mapping count", f.MappingCount}
	}
	if f.ImagesCount > maxImages {
		return nil, &FormatError{int64(f.ImagesOffset), "insane images count", f.ImagesCount}
	}

	mappings, err := f.slice(uint64(f.MappingOffset), uint64(f.MappingCount)*mappingInfoSize)
	if err != nil {
		return nil, &FormatError{int64(f.MappingOffset), "truncated mapping table", f.MappingCount}
	}
	r := bytes.NewReader(mappings)
	for i := uint32(0); i < f.MappingCount; i++ {
		cm := &CacheMapping{}
		if err := binary.Read(r, f.ByteOrder, &cm.CacheMappingInfo); err != nil {
			return nil, errors.Wrapf(err, "failed to read mapping %d", i)
		}
		if cm.FileOffset >= uint64(len(buf)) || cm.Size > uint64(len(buf))-cm.FileOffset {
			return nil, &FormatError{int64(f.MappingOffset) + int64(i)*mappingInfoSize, "truncated (no room for dyld cache mapping)", i}
		}
		cm.Name = mappingName(uint32(cm.InitProt))
		f.Mappings = append(f.Mappings, cm)
	}

	images, err := f.slice(uint64(f.ImagesOffset), uint64(f.ImagesCount)*imageInfoSize)
	if err != nil {
		return nil, &FormatError{int64(f.ImagesOffset), "truncated image table", f.ImagesCount}
	}
	r = bytes.NewReader(images)
	for i := uint32(0); i < f.ImagesCount; i++ {
		img := &CacheImage{Index: i, cache: f}
		if err := binary.Read(r, f.ByteOrder, &img.Info); err != nil {
			return nil, errors.Wrapf(err, "failed to read image info %d", i)
		}
		img.Name, err = f.path(img.Info.PathFileOffset)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read path of image %d", i)
		}
		f.Images = append(f.Images, img)
	}

	log.Debugf("parsed %s cache: %d mappings, %d images", f.Magic.Arch(), len(f.Mappings), len(f.Images))

	return f, nil
}

func mappingName(prot uint32) string {
	switch {
	case prot&0x4 != 0: // VM_PROT_EXECUTE
		return "__TEXT"
	case prot&0x2 != 0: // VM_PROT_WRITE
		return "__DATA"
	default:
		return "__LINKEDIT"
	}
}

func (f *File) slice(off, size uint64) ([]byte, error) {
	if off > uint64(len(f.buf)) || size > uint64(len(f.buf))-off {
		return nil, fmt.Errorf("range %#x+%#x exceeds cache of %#x bytes", off, size, len(f.buf))
	}
	return f.buf[off : off+size], nil
}

// path reads an image path, comparing at most maxPathLen bytes.
func (f *File) path(off uint32) (string, error) {
	if uint64(off) >= uint64(len(f.buf)) {
		return "", &FormatError{int64(off), "image path offset past end of cache", nil}
	}
	s := f.buf[off:]
	if len(s) > maxPathLen {
		s = s[:maxPathLen]
	}
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

// Bytes returns the cache buffer.
func (f *File) Bytes() []byte { return f.buf }

// Image returns the image whose path equals name. When no path matches
// exactly, a case-insensitive match on the full path or base name is tried.
func (f *File) Image(name string) *CacheImage {
	if len(name) > maxPathLen {
		name = name[:maxPathLen]
	}
	for _, i := range f.Images {
		if i.Name == name {
			return i
		}
	}
	for _, i := range f.Images {
		if strings.EqualFold(i.Name, name) {
			return i
		}
		if strings.EqualFold(filepath.Base(i.Name), name) {
			return i
		}
	}
	return nil
}

// GetMachO parses the Mach-O image at path inside the cache.
func (f *File) GetMachO(path string) (*macho.Image, error) {
	img := f.Image(path)
	if img == nil {
		return nil, errors.Wrap(ErrImageNotFound, path)
	}
	return img.GetMachO()
}

// GetMachO parses the image's mach header and load commands. Offsets in the
// image's load commands are relative to the start of the cache.
func (i *CacheImage) GetMachO() (*macho.Image, error) {
	off, err := i.cache.GetOffset(i.Info.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to locate %s", i.Name)
	}
	m, err := macho.NewImage(i.cache.buf, off, i.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", i.Name)
	}
	return m, nil
}
