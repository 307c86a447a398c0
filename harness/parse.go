package harness

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/devmem"
	"github.com/sarchlab/gpuprobe/regdb"
)

// A section is one [name args...] block of a harness file and the
// non-blank lines under it. Line numbers ride along for error messages.
type section struct {
	name string
	args []string
	no   int
	body []bodyLine
}

type bodyLine struct {
	no   int
	text string
}

// parseSections splits a harness file into its sections. Blank lines
// and full-line # or ; comments are dropped.
func parseSections(r io.Reader) ([]section, error) {
	sc := bufio.NewScanner(r)

	var (
		sections []section
		no       int
	)

	for sc.Scan() {
		no++
		text := strings.TrimSpace(sc.Text())
		if text == "" ||
			strings.HasPrefix(text, "#") ||
			strings.HasPrefix(text, ";") {
			continue
		}

		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			fields := strings.Fields(strings.Trim(text, "[]"))
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: empty section header", no)
			}
			sections = append(sections, section{
				name: fields[0],
				args: fields[1:],
				no:   no,
			})
			continue
		}

		if len(sections) == 0 {
			return nil, fmt.Errorf("line %d: %q outside a section", no, text)
		}

		cur := &sections[len(sections)-1]
		cur.body = append(cur.body, bodyLine{no: no, text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return sections, nil
}

func findSection(sections []section, name string) (section, bool) {
	for _, s := range sections {
		if s.name == name {
			return s, true
		}
	}
	return section{}, false
}

func keyValue(ln bodyLine) (string, string, error) {
	key, value, ok := strings.Cut(ln.text, "=")
	if !ok {
		return "", "", fmt.Errorf(
			"line %d: %q is not a key = value line", ln.no, ln.text)
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), nil
}

// sectionReader re-streams a section's body for the embedded-document
// parsers.
func sectionReader(s section) io.Reader {
	lines := make([]string, len(s.body))
	for i, ln := range s.body {
		lines[i] = ln.text
	}
	return strings.NewReader(strings.Join(lines, "\n"))
}

// loadImage applies hex-dump lines, "addr: bytes", to a storage.
func loadImage(st *devmem.Storage, s section) error {
	for _, ln := range s.body {
		addrStr, rest, ok := strings.Cut(ln.text, ":")
		if !ok {
			return fmt.Errorf("line %d: no address in %q", ln.no, ln.text)
		}

		addr, err := strconv.ParseUint(
			strings.TrimPrefix(strings.TrimSpace(addrStr), "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("line %d: bad address %q", ln.no, addrStr)
		}

		data, err := hex.DecodeString(strings.Join(strings.Fields(rest), ""))
		if err != nil {
			return fmt.Errorf("line %d: %v", ln.no, err)
		}

		if err := st.Write(addr, data); err != nil {
			return fmt.Errorf("line %d: %w", ln.no, err)
		}
	}
	return nil
}

// addRegisters extends the database with harness-defined registers.
// Each line is "NAME = offset FIELD lo hi ...", the offset in bytes.
func addRegisters(db *regdb.StaticDatabase, ip string, body []bodyLine) error {
	for _, ln := range body {
		name, value, err := keyValue(ln)
		if err != nil {
			return err
		}

		if _, err := db.Lookup(ip, name); err == nil {
			return fmt.Errorf(
				"line %d: register %s.%s is already defined", ln.no, ip, name)
		}

		fields := strings.Fields(value)
		if len(fields) == 0 || (len(fields)-1)%3 != 0 {
			return fmt.Errorf(
				"line %d: %s needs an offset, then FIELD lo hi triples",
				ln.no, name)
		}

		off, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: bad offset %q", ln.no, fields[0])
		}

		reg := regdb.Register{Name: name}
		for i := 1; i < len(fields); i += 3 {
			lo, err := parseInt(fields[i+1])
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			hi, err := parseInt(fields[i+2])
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			reg.Bitfields = append(reg.Bitfields, regdb.Bitfield{
				Name: fields[i], Lo: uint(lo), Hi: uint(hi),
			})
		}

		db.AddAt(ip, off, reg)
	}
	return nil
}

func regsTarget(s section) (string, int, error) {
	if len(s.args) != 2 {
		return "", 0, fmt.Errorf(
			"line %d: [regs] needs an ip name and an instance", s.no)
	}

	inst, err := parseInt(s.args[1])
	if err != nil {
		return "", 0, fmt.Errorf("line %d: %w", s.no, err)
	}

	return s.args[0], inst, nil
}

// parseBlock parses "name version [instances]".
func parseBlock(value string) (amdgpu.IPBlock, error) {
	fields := strings.Fields(value)
	if len(fields) < 2 || len(fields) > 3 {
		return amdgpu.IPBlock{}, fmt.Errorf(
			"block %q needs a name and a version", value)
	}

	ver, err := amdgpu.ParseIPVersion(fields[1])
	if err != nil {
		return amdgpu.IPBlock{}, err
	}

	insts := 1
	if len(fields) == 3 {
		insts, err = parseInt(fields[2])
		if err != nil {
			return amdgpu.IPBlock{}, err
		}
	}

	return amdgpu.IPBlock{
		Name: fields[0], Version: ver, Instances: insts,
	}, nil
}

// parseSize parses a byte count, honoring K/M/G/T suffixes.
func parseSize(s string) (uint64, error) {
	num := s
	mult := uint64(1)

	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K', 'k':
			mult = 1 << 10
		case 'M', 'm':
			mult = 1 << 20
		case 'G', 'g':
			mult = 1 << 30
		case 'T', 't':
			mult = 1 << 40
		}
		if mult > 1 {
			num = s[:n-1]
		}
	}

	v, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q", s)
	}

	return v * mult, nil
}

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("bad flag %q", s)
	}
	return v, nil
}

func parseReg32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad register value %q", s)
	}
	return uint32(v), nil
}
