package binary

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildELF64 assembles a small but well-formed x86-64 ELF executable:
// a .text (CODE) and .data (DATA) section, a .bss and a .comment that the
// loader must skip, a static symtab with one function (main) and one data
// object, and a dynsym with one function (printf).
func buildELF64(t *testing.T) []byte {
	t.Helper()
	le := binary.LittleEndian

	sym64 := func(nameOff uint32, info byte, value, size uint64) []byte {
		ent := make([]byte, 24)
		le.PutUint32(ent[0:], nameOff)
		ent[4] = info
		ent[5] = 0
		le.PutUint16(ent[6:], 1) // st_shndx: .text
		le.PutUint64(ent[8:], value)
		le.PutUint64(ent[16:], size)
		return ent
	}

	var body bytes.Buffer // everything after the 64 byte ELF header
	off := func() uint64 { return uint64(64 + body.Len()) }

	text := []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x5d, 0xc3, 0x00}
	textOff := off()
	body.Write(text)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dataOff := off()
	body.Write(data)

	// strtab: "" main counter
	strtab := []byte("\x00main\x00counter\x00")
	symtab := bytes.Join([][]byte{
		make([]byte, 24), // null symbol
		sym64(1, byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC), 0x401000, 16),
		sym64(6, byte(elf.STB_GLOBAL)<<4|byte(elf.STT_OBJECT), 0x402000, 8),
	}, nil)
	symtabOff := off()
	body.Write(symtab)
	strtabOff := off()
	body.Write(strtab)

	dynstr := []byte("\x00printf\x00")
	dynsym := bytes.Join([][]byte{
		make([]byte, 24),
		sym64(1, byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC), 0, 0),
	}, nil)
	dynsymOff := off()
	body.Write(dynsym)
	dynstrOff := off()
	body.Write(dynstr)

	comment := []byte("binspy\x00")
	commentOff := off()
	body.Write(comment)

	shstrtab := []byte("\x00.text\x00.data\x00.bss\x00.comment\x00.symtab\x00.strtab\x00.dynsym\x00.dynstr\x00.shstrtab\x00")
	shstrtabOff := off()
	body.Write(shstrtab)

	type sec struct {
		nameOff uint32
		typ     elf.SectionType
		flags   elf.SectionFlag
		addr    uint64
		off     uint64
		size    uint64
		link    uint32
		entsize uint64
	}
	secs := []sec{
		{}, // null section
		{1, elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_EXECINSTR, 0x401000, textOff, uint64(len(text)), 0, 0},
		{7, elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, 0x402000, dataOff, uint64(len(data)), 0, 0},
		{13, elf.SHT_NOBITS, elf.SHF_ALLOC | elf.SHF_WRITE, 0x403000, off(), 0x20, 0, 0},
		{18, elf.SHT_PROGBITS, 0, 0, commentOff, uint64(len(comment)), 0, 0},
		{27, elf.SHT_SYMTAB, 0, 0, symtabOff, uint64(len(symtab)), 6, 24},
		{35, elf.SHT_STRTAB, 0, 0, strtabOff, uint64(len(strtab)), 0, 0},
		{43, elf.SHT_DYNSYM, 0, 0, dynsymOff, uint64(len(dynsym)), 8, 24},
		{51, elf.SHT_STRTAB, 0, 0, dynstrOff, uint64(len(dynstr)), 0, 0},
		{59, elf.SHT_STRTAB, 0, 0, shstrtabOff, uint64(len(shstrtab)), 0, 0},
	}
	shoff := off()
	for _, s := range secs {
		ent := make([]byte, 64)
		le.PutUint32(ent[0:], s.nameOff)
		le.PutUint32(ent[4:], uint32(s.typ))
		le.PutUint64(ent[8:], uint64(s.flags))
		le.PutUint64(ent[16:], s.addr)
		le.PutUint64(ent[24:], s.off)
		le.PutUint64(ent[32:], s.size)
		le.PutUint32(ent[40:], s.link)
		le.PutUint32(ent[44:], 0)
		le.PutUint64(ent[48:], 1)
		le.PutUint64(ent[56:], s.entsize)
		body.Write(ent)
	}

	ehdr := make([]byte, 64)
	copy(ehdr, elfMagic)
	ehdr[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ehdr[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ehdr[elf.EI_VERSION] = 1
	le.PutUint16(ehdr[16:], uint16(elf.ET_EXEC))
	le.PutUint16(ehdr[18:], uint16(elf.EM_X86_64))
	le.PutUint32(ehdr[20:], 1)
	le.PutUint64(ehdr[24:], 0x401000) // e_entry
	le.PutUint64(ehdr[40:], shoff)
	le.PutUint16(ehdr[52:], 64)
	le.PutUint16(ehdr[54:], 56)
	le.PutUint16(ehdr[58:], 64)
	le.PutUint16(ehdr[60:], uint16(len(secs)))
	le.PutUint16(ehdr[62:], uint16(len(secs)-1)) // shstrndx

	return append(ehdr, body.Bytes()...)
}

// buildPE64 assembles a minimal x86-64 PE image with a code, a data and a
// discardable debug section and no symbol table.
func buildPE64(t *testing.T) []byte {
	t.Helper()
	le := binary.LittleEndian

	name8 := func(s string) [8]uint8 {
		var n [8]uint8
		copy(n[:], s)
		return n
	}

	var buf bytes.Buffer
	dos := make([]byte, 0x40)
	copy(dos, peMagic)
	le.PutUint32(dos[0x3c:], 0x40) // e_lfanew
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	if err := binary.Write(&buf, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     3,
		SizeOfOptionalHeader: 240,
		Characteristics:      0x0022,
	}); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(&buf, le, pe.OptionalHeader64{
		Magic:               0x20b,
		AddressOfEntryPoint: 0x1000,
		ImageBase:           0x140000000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		NumberOfRvaAndSizes: 16,
	}); err != nil {
		t.Fatal(err)
	}

	text := []byte{0x48, 0x31, 0xc0, 0xc3, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}
	data := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	dbg := []byte{0xde, 0xad, 0xbe, 0xef}

	hdrEnd := uint32(buf.Len()) + 3*40
	textOff := hdrEnd
	dataOff := textOff + uint32(len(text))
	dbgOff := dataOff + uint32(len(data))
	secs := []pe.SectionHeader32{
		{Name: name8(".text"), VirtualSize: 16, VirtualAddress: 0x1000, SizeOfRawData: uint32(len(text)), PointerToRawData: textOff,
			Characteristics: pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ},
		{Name: name8(".data"), VirtualSize: 8, VirtualAddress: 0x2000, SizeOfRawData: uint32(len(data)), PointerToRawData: dataOff,
			Characteristics: pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE},
		{Name: name8(".dbg"), VirtualSize: 4, VirtualAddress: 0x3000, SizeOfRawData: uint32(len(dbg)), PointerToRawData: dbgOff,
			Characteristics: pe.IMAGE_SCN_MEM_DISCARDABLE | pe.IMAGE_SCN_MEM_READ},
	}
	for _, s := range secs {
		if err := binary.Write(&buf, le, s); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write(text)
	buf.Write(data)
	buf.Write(dbg)
	return buf.Bytes()
}

func writeFixture(t *testing.T, img []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture_bin")
	if err := os.WriteFile(path, img, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
