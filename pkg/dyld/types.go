package dyld

import (
	"strings"

	"github.com/blacktop/go-macho/types"
)

const (
	headerSize      = 40
	mappingInfoSize = 32
	imageInfoSize   = 32

	maxMappings = 1000
	maxImages   = 1000
	maxPathLen  = 128
)

type magic [16]byte

func (m magic) String() string {
	return strings.Trim(string(m[:]), "\x00")
}

// Arch returns the architecture suffix of the magic, e.g. "armv7" for "dyld_v1   armv7".
func (m magic) Arch() string {
	s := m.String()
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	return ""
}

var archSubtypes = map[string]types.CPUSubtype{
	"armv6":  6,
	"armv7":  9,
	"armv7f": 10,
	"armv7s": 11,
	"armv7k": 12,
}

// CacheHeader is the legacy dyld_cache_header.
type CacheHeader struct {
	Magic           magic  // e.g. "dyld_v1   armv7"
	MappingOffset   uint32 // file offset to first dyld_cache_mapping_info
	MappingCount    uint32 // number of dyld_cache_mapping_info entries
	ImagesOffset    uint32 // file offset to first dyld_cache_image_info
	ImagesCount     uint32 // number of dyld_cache_image_info entries
	DyldBaseAddress uint64 // base address of dyld when cache was built
}

type CacheMappingInfo struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	MaxProt    types.VmProtection
	InitProt   types.VmProtection
}

type CacheMapping struct {
	Name string
	CacheMappingInfo
}

type CacheImageInfo struct {
	Address        uint64
	ModTime        uint64
	Inode          uint64
	PathFileOffset uint32
	Pad            uint32
}

// CacheImage is one dylib listed in the cache's image table.
type CacheImage struct {
	Name  string
	Index uint32
	Info  CacheImageInfo

	cache *File
}
