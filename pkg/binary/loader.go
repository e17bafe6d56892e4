package binary

import (
	"fmt"
	"os"
	"strings"
)

// Format is the caller's hint about the container format of the file to
// load.
type Format int

const (
	FormatAuto Format = iota
	FormatELF
	FormatPE
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatPE:
		return "pe"
	}
	return "auto"
}

// ParseFormat maps a command line hint to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "elf":
		return FormatELF, nil
	case "pe":
		return FormatPE, nil
	}
	return FormatAuto, fmt.Errorf("unknown format hint %q (want auto, elf or pe)", s)
}

// backend parses one family of container formats into the normalized model.
// A backend either returns a fully populated Binary or an error, never a
// partial result.
type backend interface {
	Name() string
	Load(path string) (*Binary, error)
}

var (
	forensicBackend backend = &forensicLoader{}
	objectBackend   backend = &objectLoader{}
)

// LoadBinary loads the executable at path into the normalized model.
//
// With FormatAuto or FormatELF the forensic ELF backend runs first; it is
// authoritative for ELF, so a FormatELF load fails as soon as it does. With
// FormatAuto its failure falls through to the general object backend, which
// is also the only backend tried for FormatPE.
func LoadBinary(path string, format Format) (*Binary, error) {
	return loadWith(forensicBackend, objectBackend, path, format)
}

func loadWith(forensic, object backend, path string, format Format) (*Binary, error) {
	if format == FormatAuto || format == FormatELF {
		bin, err := forensic.Load(path)
		if err == nil {
			return bin, nil
		}
		if format == FormatELF {
			return nil, fmt.Errorf("%s: %w", forensic.Name(), err)
		}
		log().WithError(err).Debugf("%s backend rejected %s, falling back to %s", forensic.Name(), path, object.Name())
	}
	bin, err := object.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", object.Name(), err)
	}
	return bin, nil
}

// LoadPid loads the executable image of a running process by resolving
// /proc/<pid>/exe.
func LoadPid(pid int, format Format) (*Binary, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable of pid %d: %w", pid, err)
	}
	return LoadBinary(path, format)
}
