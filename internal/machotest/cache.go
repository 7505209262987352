package machotest

// CacheImage is a dylib placed inside a synthetic cache.
type CacheImage struct {
	Path string
	File *File
}

// Cache describes a legacy dyld_shared_cache with a single mapping that
// covers the whole file starting at Base.
type Cache struct {
	Magic  string // defaults to "dyld_v1   armv7"
	Base   uint64
	Images []CacheImage
}

// CacheLayout records where each image header landed.
type CacheLayout struct {
	HeaderOffsets []uint64
	Images        []Layout
}

// Build writes the cache.
func (c *Cache) Build() ([]byte, CacheLayout) {
	var cl CacheLayout

	magic := c.Magic
	if magic == "" {
		magic = "dyld_v1   armv7"
	}

	const (
		mappingOff = 40
		imagesOff  = mappingOff + 32
	)
	pathsOff := uint64(imagesOff + 32*len(c.Images))
	off := pathsOff
	var pathOffs []uint64
	for _, img := range c.Images {
		pathOffs = append(pathOffs, off)
		off += uint64(len(img.Path)) + 1
	}

	var blobs [][]byte
	for _, img := range c.Images {
		off = align(off, 0x1000)
		blob, l := img.File.BuildAt(off)
		cl.HeaderOffsets = append(cl.HeaderOffsets, off)
		cl.Images = append(cl.Images, l)
		blobs = append(blobs, blob)
		off = l.Size
	}
	if off < imagesOff+32 {
		off = imagesOff + 32
	}

	out := make([]byte, off)
	copy(out[0:16], magic)
	bo.PutUint32(out[16:], mappingOff)
	bo.PutUint32(out[20:], 1)
	bo.PutUint32(out[24:], imagesOff)
	bo.PutUint32(out[28:], uint32(len(c.Images)))

	m := out[mappingOff:]
	bo.PutUint64(m[0:], c.Base)
	bo.PutUint64(m[8:], off)
	bo.PutUint64(m[16:], 0)
	bo.PutUint32(m[24:], 5) // r-x
	bo.PutUint32(m[28:], 5)

	for i, img := range c.Images {
		info := out[imagesOff+32*i:]
		bo.PutUint64(info[0:], c.Base+cl.HeaderOffsets[i])
		bo.PutUint32(info[24:], uint32(pathOffs[i]))
		copy(out[pathOffs[i]:], img.Path)
		copy(out[cl.HeaderOffsets[i]:], blobs[i])
	}

	return out, cl
}
