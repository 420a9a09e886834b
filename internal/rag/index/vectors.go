package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	vectorFileVersion = 1
	maxDimension      = 1 << 16
)

var vectorMagic = [4]byte{'D', 'Q', 'V', 'X'}

// ErrCorrupt is returned when index files cannot be decoded or disagree
// with each other.
var ErrCorrupt = errors.New("index: corrupt index files")

type vectorHeader struct {
	Magic     [4]byte
	Version   uint32
	Dimension uint32
	Count     uint32
}

// writeVectors writes a little-endian float32 matrix preceded by a header.
func writeVectors(path string, vectors [][]float32) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	w := bufio.NewWriter(f)
	header := vectorHeader{
		Magic:     vectorMagic,
		Version:   vectorFileVersion,
		Dimension: uint32(dim),
		Count:     uint32(len(vectors)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// readVectors decodes a file written by writeVectors.
func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header vectorHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("%w: vector header: %v", ErrCorrupt, err)
	}
	if header.Magic != vectorMagic {
		return nil, 0, fmt.Errorf("%w: bad vector file magic", ErrCorrupt)
	}
	if header.Version != vectorFileVersion {
		return nil, 0, fmt.Errorf("%w: unsupported vector file version %d", ErrCorrupt, header.Version)
	}
	if header.Dimension == 0 || header.Dimension > maxDimension {
		return nil, 0, fmt.Errorf("%w: vector dimension %d", ErrCorrupt, header.Dimension)
	}

	dim := int(header.Dimension)
	vectors := make([][]float32, header.Count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, 0, fmt.Errorf("%w: vector %d: %v", ErrCorrupt, i, err)
		}
		vectors[i] = v
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, 0, fmt.Errorf("%w: trailing data after %d vectors", ErrCorrupt, header.Count)
	}
	return vectors, dim, nil
}
