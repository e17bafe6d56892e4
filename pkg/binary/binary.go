package binary

import (
	"fmt"
)

// UnnamedSection is the placeholder name used when a backend exposes a
// section without a usable name.
const UnnamedSection = "<unnamed>"

type BinType int

const (
	TypeELF BinType = iota
	TypePE
)

func (t BinType) String() string {
	switch t {
	case TypeELF:
		return "ELF"
	case TypePE:
		return "PE"
	}
	return "unknown"
}

type Arch int

const (
	ArchX86 Arch = iota
)

func (a Arch) String() string {
	if a == ArchX86 {
		return "X86"
	}
	return "unknown"
}

type SectionType int

const (
	SectionCode SectionType = iota
	SectionData
)

func (t SectionType) String() string {
	switch t {
	case SectionCode:
		return "CODE"
	case SectionData:
		return "DATA"
	}
	return "unknown"
}

type SymType int

const (
	SymFunc SymType = iota
)

func (t SymType) String() string {
	if t == SymFunc {
		return "FUNC"
	}
	return "unknown"
}

// Binary is the normalized view of a loaded executable. It owns its sections
// and symbols; both slices keep the discovery order of the backend that
// produced them (symbols: static table entries first, then dynamic ones).
type Binary struct {
	Path    string
	Type    BinType
	TypeStr string // backend-specific target name, "unknown" if none
	Arch    Arch
	ArchStr string
	Bits    int
	Entry   uint64

	Sections []*Section
	Symbols  []*Symbol
}

func (b *Binary) String() string {
	return fmt.Sprintf("%s: %s %s/%d, entry 0x%016x, %d sections, %d symbols",
		b.Path, b.Type, b.Arch, b.Bits, b.Entry, len(b.Sections), len(b.Symbols))
}

// Section returns the section with the given name, or nil.
func (b *Binary) Section(name string) *Section {
	for _, sec := range b.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

// Unload releases the byte buffers backing every section. The Section and
// Symbol collections themselves stay in place so metadata remains
// queryable. Calling Unload more than once is a no-op.
func (b *Binary) Unload() {
	for _, sec := range b.Sections {
		sec.Data = nil
	}
}

// Section is one code or data region of a loaded binary. Data holds exactly
// Size bytes of the section's on-disk contents until Unload nils it; the
// buffer is owned by the section and never shared.
type Section struct {
	Binary *Binary // owning binary
	Name   string
	Type   SectionType
	VMA    uint64
	Size   uint64
	Data   []byte
}

// Contains reports whether addr falls inside the section's VMA range.
func (s *Section) Contains(addr uint64) bool {
	return addr >= s.VMA && addr < s.VMA+s.Size
}

// Loaded reports whether the section's contents are still resident.
func (s *Section) Loaded() bool {
	return s.Data != nil
}

// Symbol is a function symbol resolved by a backend. The same function may
// appear twice when both the static and the dynamic table carry it.
type Symbol struct {
	Name string
	Type SymType
	Addr uint64
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s@0x%x", s.Name, s.Addr)
}
