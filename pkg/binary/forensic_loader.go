package binary

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

// forensicLoader is the ELF-only adapter. It decodes headers by hand over
// the raw file image so that executables with damaged or truncated
// structure still load as far as their bytes allow. It never reports a
// target name, TypeStr stays "unknown".
type forensicLoader struct{}

func (l *forensicLoader) Name() string { return "forensic-elf" }

// shdr is the subset of an ELF section header the loader cares about.
type shdr struct {
	nameOff uint32
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	off     uint64
	size    uint64
	link    uint32
}

type elfImage struct {
	raw   []byte
	order binary.ByteOrder
	class elf.Class
}

func (l *forensicLoader) Load(path string) (*Binary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBinaryNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	img, err := newELFImage(raw)
	if err != nil {
		return nil, err
	}

	bin := &Binary{Path: path, Type: TypeELF, TypeStr: "unknown", Arch: ArchX86}
	switch img.class {
	case elf.ELFCLASS32:
		bin.Bits = 32
	case elf.ELFCLASS64:
		bin.Bits = 64
	}
	switch machine := elf.Machine(img.order.Uint16(raw[18:])); machine {
	case elf.EM_386:
		bin.ArchStr = "x86"
	case elf.EM_X86_64:
		bin.ArchStr = "x86_64"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, machine)
	}
	bin.Entry = img.addr(24) // e_entry

	shdrs := img.sectionHeaders()
	names := img.sectionNames(shdrs)

	// Symbol handling is best-effort only, either table may be missing.
	l.loadSymbolTable(img, shdrs, elf.SHT_SYMTAB, bin)
	l.loadSymbolTable(img, shdrs, elf.SHT_DYNSYM, bin)

	l.loadSections(img, shdrs, names, bin)
	return bin, nil
}

func newELFImage(raw []byte) (*elfImage, error) {
	if len(raw) < 16 || !bytes.Equal(raw[:4], elfMagic) {
		return nil, fmt.Errorf("%w: not an ELF object", ErrInvalidExecutable)
	}
	img := &elfImage{raw: raw}
	switch elf.Class(raw[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		img.class = elf.ELFCLASS32
	case elf.ELFCLASS64:
		img.class = elf.ELFCLASS64
	default:
		return nil, fmt.Errorf("%w: bad ELF class %#x", ErrInvalidExecutable, raw[elf.EI_CLASS])
	}
	switch elf.Data(raw[elf.EI_DATA]) {
	case elf.ELFDATA2MSB:
		img.order = binary.BigEndian
	default:
		// Damaged ident bytes are common in the wild, assume the usual
		// encoding and keep going.
		img.order = binary.LittleEndian
	}
	if len(raw) < img.headerSize() {
		return nil, fmt.Errorf("%w: truncated ELF header", ErrInvalidExecutable)
	}
	return img, nil
}

func (img *elfImage) headerSize() int {
	if img.class == elf.ELFCLASS32 {
		return 52
	}
	return 64
}

// addr reads a class-sized address field at the given header offset.
func (img *elfImage) addr(off int) uint64 {
	if img.class == elf.ELFCLASS32 {
		return uint64(img.order.Uint32(img.raw[off:]))
	}
	return img.order.Uint64(img.raw[off:])
}

// bytesAt returns the file extent [off, off+size) if it lies fully inside
// the image.
func (img *elfImage) bytesAt(off, size uint64) ([]byte, bool) {
	n := uint64(len(img.raw))
	if off > n || size > n-off {
		return nil, false
	}
	return img.raw[off : off+size], true
}

// sectionHeaders decodes the section header table. A missing or
// out-of-range table is not an error, the binary simply has no usable
// sections; individual entries that run past the image are dropped.
func (img *elfImage) sectionHeaders() []shdr {
	var shoff uint64
	var shentsize, shnum int
	if img.class == elf.ELFCLASS32 {
		shoff = uint64(img.order.Uint32(img.raw[32:]))
		shentsize = int(img.order.Uint16(img.raw[46:]))
		shnum = int(img.order.Uint16(img.raw[48:]))
	} else {
		shoff = img.order.Uint64(img.raw[40:])
		shentsize = int(img.order.Uint16(img.raw[58:]))
		shnum = int(img.order.Uint16(img.raw[60:]))
	}
	minEnt := 40
	if img.class == elf.ELFCLASS64 {
		minEnt = 64
	}
	if shoff == 0 || shnum == 0 || shentsize < minEnt {
		return nil
	}
	if shoff >= uint64(len(img.raw)) {
		log().Warnf("section header table at 0x%x lies outside the image", shoff)
		return nil
	}
	shdrs := make([]shdr, 0, shnum)
	for i := 0; i < shnum; i++ {
		base := shoff + uint64(i)*uint64(shentsize)
		ent, ok := img.bytesAt(base, uint64(minEnt))
		if !ok {
			log().Warnf("section header table truncated after %d of %d entries", i, shnum)
			break
		}
		var sh shdr
		sh.nameOff = img.order.Uint32(ent)
		sh.typ = elf.SectionType(img.order.Uint32(ent[4:]))
		if img.class == elf.ELFCLASS32 {
			sh.flags = elf.SectionFlag(img.order.Uint32(ent[8:]))
			sh.addr = uint64(img.order.Uint32(ent[12:]))
			sh.off = uint64(img.order.Uint32(ent[16:]))
			sh.size = uint64(img.order.Uint32(ent[20:]))
			sh.link = img.order.Uint32(ent[24:])
		} else {
			sh.flags = elf.SectionFlag(img.order.Uint64(ent[8:]))
			sh.addr = img.order.Uint64(ent[16:])
			sh.off = img.order.Uint64(ent[24:])
			sh.size = img.order.Uint64(ent[32:])
			sh.link = img.order.Uint32(ent[40:])
		}
		shdrs = append(shdrs, sh)
	}
	return shdrs
}

// sectionNames returns the raw shstrtab bytes, or nil when the index or the
// table itself is unusable (section names then degrade to the placeholder).
func (img *elfImage) sectionNames(shdrs []shdr) []byte {
	var shstrndx int
	if img.class == elf.ELFCLASS32 {
		shstrndx = int(img.order.Uint16(img.raw[50:]))
	} else {
		shstrndx = int(img.order.Uint16(img.raw[62:]))
	}
	if shstrndx <= 0 || shstrndx >= len(shdrs) {
		return nil
	}
	names, ok := img.bytesAt(shdrs[shstrndx].off, shdrs[shstrndx].size)
	if !ok {
		log().Warn("section name table lies outside the image")
		return nil
	}
	return names
}

func (img *elfImage) symEntSize() int {
	if img.class == elf.ELFCLASS32 {
		return 16
	}
	return 24
}

// cstring extracts the NUL-terminated string at off, empty when out of
// range.
func cstring(tab []byte, off uint32) string {
	if tab == nil || uint64(off) >= uint64(len(tab)) {
		return ""
	}
	s := tab[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// loadSymbolTable collects the function symbols of the first section of the
// wanted type. Absence of the table is not an error, and a corrupt table
// only loses its own entries.
func (l *forensicLoader) loadSymbolTable(img *elfImage, shdrs []shdr, want elf.SectionType, bin *Binary) {
	idx := -1
	for i, sh := range shdrs {
		if sh.typ == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	sh := shdrs[idx]
	data, ok := img.bytesAt(sh.off, sh.size)
	if !ok {
		log().Warnf("symbol table (type %d) lies outside the image, skipping", want)
		return
	}
	var strtab []byte
	if int(sh.link) < len(shdrs) {
		strtab, _ = img.bytesAt(shdrs[sh.link].off, shdrs[sh.link].size)
	}
	esize := img.symEntSize()
	for off := 0; off+esize <= len(data); off += esize {
		ent := data[off : off+esize]
		var nameOff uint32
		var info byte
		var value uint64
		if img.class == elf.ELFCLASS32 {
			nameOff = img.order.Uint32(ent)
			value = uint64(img.order.Uint32(ent[4:]))
			info = ent[12]
		} else {
			nameOff = img.order.Uint32(ent)
			info = ent[4]
			value = img.order.Uint64(ent[8:])
		}
		if elf.ST_TYPE(info) != elf.STT_FUNC {
			continue
		}
		name := cstring(strtab, nameOff)
		if name == "" {
			continue
		}
		bin.Symbols = append(bin.Symbols, &Symbol{Name: name, Type: SymFunc, Addr: value})
	}
}

// loadSections copies every code/data section out of the image. Extents
// that fall outside the file are skipped or clamped instead of failing the
// load; each kept section owns a fresh buffer of exactly Size bytes.
func (l *forensicLoader) loadSections(img *elfImage, shdrs []shdr, names []byte, bin *Binary) {
	for _, sh := range shdrs {
		if sh.typ == elf.SHT_NOBITS {
			// Nothing on disk to copy.
			continue
		}
		var typ SectionType
		switch {
		case sh.flags&elf.SHF_EXECINSTR != 0:
			typ = SectionCode
		case sh.flags&elf.SHF_ALLOC != 0:
			typ = SectionData
		default:
			continue
		}
		name := cstring(names, sh.nameOff)
		if name == "" {
			name = UnnamedSection
		}
		data, ok := img.bytesAt(sh.off, sh.size)
		if !ok {
			if sh.off >= uint64(len(img.raw)) {
				log().Warnf("section %s lies outside the image, skipping", name)
				continue
			}
			data = img.raw[sh.off:]
			log().Warnf("section %s truncated, keeping %d of %d bytes", name, len(data), sh.size)
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		bin.Sections = append(bin.Sections, &Section{
			Binary: bin,
			Name:   name,
			Type:   typ,
			VMA:    sh.addr,
			Size:   uint64(len(buf)),
			Data:   buf,
		})
	}
}
