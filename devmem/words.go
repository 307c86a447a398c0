package devmem

import "encoding/binary"

// Word helpers. Page-table entries and ring contents are little-endian
// on every chip this toolkit supports.

func (s *Storage) ReadUint32(addr uint64) (uint32, error) {
	b, err := s.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Storage) WriteUint32(addr uint64, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return s.Write(addr, b)
}

func (s *Storage) ReadUint64(addr uint64) (uint64, error) {
	b, err := s.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Storage) WriteUint64(addr uint64, v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return s.Write(addr, b)
}
