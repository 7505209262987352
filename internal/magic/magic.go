package magic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	Cigam32    Magic = 0xcefaedfe
	Cigam64    Magic = 0xcffaedfe
	MagicFatBE Magic = 0xcafebabe
	MagicFatLE Magic = 0xbebafeca
)

func readMagic(filePath string, n int) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err = f.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	return buf, nil
}

// IsMachO reports whether filePath is a thin Mach-O. Universal files are
// rejected since relocation works on a single slice.
func IsMachO(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 4)
	if err != nil {
		return false, err
	}

	switch Magic(binary.LittleEndian.Uint32(magic)) {
	case Magic32, Magic64, Cigam32, Cigam64:
		return true, nil
	case MagicFatBE, MagicFatLE:
		return false, fmt.Errorf("universal machos are not supported (extract a slice with `lipo -thin` first)")
	default:
		return false, fmt.Errorf("not a macho file")
	}
}

// IsDyldCache reports whether filePath starts with a dyld_shared_cache magic.
func IsDyldCache(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 16)
	if err != nil {
		return false, err
	}
	if !bytes.HasPrefix(magic, []byte("dyld_")) {
		return false, fmt.Errorf("not a dyld_shared_cache file")
	}
	return true, nil
}
