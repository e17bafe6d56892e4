package binary

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	peMagic  = []byte{'M', 'Z'}

	machOMagics = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
	}
)

// objectLoader is the general-purpose adapter. It recognizes both ELF and
// PE containers through the standard object file readers and handles
// everything the forensic backend does not claim.
type objectLoader struct{}

func (o *objectLoader) Name() string { return "object" }

func (o *objectLoader) Load(path string) (*Binary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBinaryNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("%w: %s is too short to hold an object header", ErrInvalidExecutable, path)
	}
	switch {
	case bytes.Equal(magic, elfMagic):
		return o.loadELF(path, f)
	case bytes.HasPrefix(magic, peMagic):
		return o.loadPE(path, f)
	case isMachO(magic):
		return nil, fmt.Errorf("%w: Mach-O", ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%w: %s does not look like an executable", ErrInvalidExecutable, path)
}

func isMachO(magic []byte) bool {
	for _, m := range machOMagics {
		if bytes.Equal(magic, m) {
			return true
		}
	}
	return false
}

func (o *objectLoader) loadELF(path string, f *os.File) (*Binary, error) {
	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	bin := &Binary{Path: path, Type: TypeELF, Arch: ArchX86, Entry: ef.Entry}
	switch ef.Machine {
	case elf.EM_386:
		bin.Bits, bin.ArchStr, bin.TypeStr = 32, "x86", "elf32-i386"
	case elf.EM_X86_64:
		bin.Bits, bin.ArchStr, bin.TypeStr = 64, "x86_64", "elf64-x86-64"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, ef.Machine)
	}

	// Symbol handling is best-effort only, either table may be missing.
	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		log().WithError(err).Warnf("failed to read symtab of %s", path)
	}
	appendELFFuncSymbols(bin, syms)
	dyn, err := ef.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		log().WithError(err).Warnf("failed to read dynsym of %s", path)
	}
	appendELFFuncSymbols(bin, dyn)

	if err := o.loadELFSections(ef, bin); err != nil {
		return nil, err
	}
	return bin, nil
}

func appendELFFuncSymbols(bin *Binary, syms []elf.Symbol) {
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		bin.Symbols = append(bin.Symbols, &Symbol{Name: s.Name, Type: SymFunc, Addr: s.Value})
	}
}

func (o *objectLoader) loadELFSections(ef *elf.File, bin *Binary) error {
	for _, sec := range ef.Sections {
		if sec.Type == elf.SHT_NOBITS {
			// Nothing on disk to copy.
			continue
		}
		var typ SectionType
		switch {
		case sec.Flags&elf.SHF_EXECINSTR != 0:
			typ = SectionCode
		case sec.Flags&elf.SHF_ALLOC != 0:
			typ = SectionData
		default:
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSectionRead, sec.Name, err)
		}
		name := sec.Name
		if name == "" {
			name = UnnamedSection
		}
		bin.Sections = append(bin.Sections, &Section{
			Binary: bin,
			Name:   name,
			Type:   typ,
			VMA:    sec.Addr,
			Size:   uint64(len(data)),
			Data:   data,
		})
	}
	return nil
}

func (o *objectLoader) loadPE(path string, f *os.File) (*Binary, error) {
	pf, err := pe.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	bin := &Binary{Path: path, Type: TypePE, Arch: ArchX86}
	var imageBase uint64
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
		bin.Entry = imageBase + uint64(oh.AddressOfEntryPoint)
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
		bin.Entry = imageBase + uint64(oh.AddressOfEntryPoint)
	default:
		return nil, fmt.Errorf("%w: missing PE optional header", ErrInvalidExecutable)
	}
	switch pf.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		bin.Bits, bin.ArchStr, bin.TypeStr = 32, "x86", "pei-i386"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		bin.Bits, bin.ArchStr, bin.TypeStr = 64, "x86_64", "pei-x86-64"
	default:
		return nil, fmt.Errorf("%w: machine 0x%x", ErrUnsupportedArch, pf.Machine)
	}

	// COFF keeps a single symbol table; PE has no dynamic one.
	o.loadPESymbols(pf, bin, imageBase)

	if err := o.loadPESections(pf, bin, imageBase); err != nil {
		return nil, err
	}
	return bin, nil
}

func (o *objectLoader) loadPESymbols(pf *pe.File, bin *Binary, imageBase uint64) {
	for _, s := range pf.Symbols {
		if !isPEFuncSymbol(s) || s.Name == "" {
			continue
		}
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(pf.Sections) {
			continue
		}
		sect := pf.Sections[s.SectionNumber-1]
		addr := imageBase + uint64(sect.VirtualAddress) + uint64(s.Value)
		bin.Symbols = append(bin.Symbols, &Symbol{Name: s.Name, Type: SymFunc, Addr: addr})
	}
}

// isPEFuncSymbol checks the complex type nibble of a COFF symbol for
// IMAGE_SYM_DTYPE_FUNCTION.
func isPEFuncSymbol(s *pe.Symbol) bool {
	const dtypeFunction = 2
	return (s.Type>>4)&0xf == dtypeFunction
}

func (o *objectLoader) loadPESections(pf *pe.File, bin *Binary, imageBase uint64) error {
	for _, sec := range pf.Sections {
		var typ SectionType
		switch {
		case sec.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0:
			typ = SectionCode
		case sec.Characteristics&pe.IMAGE_SCN_CNT_INITIALIZED_DATA != 0:
			typ = SectionData
		default:
			continue
		}
		if sec.Size == 0 {
			// Reserved at runtime only, nothing on disk.
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSectionRead, sec.Name, err)
		}
		name := sec.Name
		if name == "" {
			name = UnnamedSection
		}
		bin.Sections = append(bin.Sections, &Section{
			Binary: bin,
			Name:   name,
			Type:   typ,
			VMA:    imageBase + uint64(sec.VirtualAddress),
			Size:   uint64(len(data)),
			Data:   data,
		})
	}
	return nil
}
