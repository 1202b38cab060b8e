package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/google/uuid"
)

// Vector blob layout, all integers little-endian:
//
//	magic "SUTV" | version u16 | reserved u16 | generation [16]byte |
//	dimension u32 | count u32 | count*dimension float32 | crc32 u32
//
// The CRC covers every byte before it.
const (
	vectorMagic   = "SUTV"
	vectorVersion = 1
	headerSize    = 4 + 2 + 2 + 16 + 4 + 4
)

// VectorHeader describes a vector blob.
type VectorHeader struct {
	Generation uuid.UUID
	Dimension  int
	Count      int
}

// EncodeVector converts a float32 slice to a little-endian byte blob
func EncodeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DecodeVector converts a byte blob back to a float32 slice
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob length %d is not a multiple of 4", ErrCorrupt, len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// writeVectors writes the vector blob to w.
func writeVectors(w io.Writer, h VectorHeader, vectors [][]float32) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))

	header := make([]byte, headerSize)
	copy(header[0:4], vectorMagic)
	binary.LittleEndian.PutUint16(header[4:6], vectorVersion)
	copy(header[8:24], h.Generation[:])
	binary.LittleEndian.PutUint32(header[24:28], uint32(h.Dimension))
	binary.LittleEndian.PutUint32(header[28:32], uint32(h.Count))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	for i, v := range vectors {
		if len(v) != h.Dimension {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), h.Dimension)
		}
		if _, err := bw.Write(EncodeVector(v)); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	_, err := w.Write(sum[:])
	return err
}

// ReadVectorFile reads and verifies a vector blob.
func ReadVectorFile(path string) (VectorHeader, [][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return VectorHeader{}, nil, fmt.Errorf("%w: vector file %s", ErrNotFound, path)
		}
		return VectorHeader{}, nil, fmt.Errorf("read vector file: %w", err)
	}
	return parseVectors(data)
}

func parseVectors(data []byte) (VectorHeader, [][]float32, error) {
	var h VectorHeader
	if len(data) < headerSize+4 || string(data[0:4]) != vectorMagic {
		return h, nil, fmt.Errorf("%w: not a vector file", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != vectorVersion {
		return h, nil, fmt.Errorf("%w: vector file version %d", ErrIncompatible, v)
	}

	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return h, nil, fmt.Errorf("%w: vector file checksum mismatch", ErrCorrupt)
	}

	copy(h.Generation[:], data[8:24])
	h.Dimension = int(binary.LittleEndian.Uint32(data[24:28]))
	h.Count = int(binary.LittleEndian.Uint32(data[28:32]))

	payload := body[headerSize:]
	rowSize := h.Dimension * 4
	if h.Dimension <= 0 || len(payload) != h.Count*rowSize {
		return h, nil, fmt.Errorf("%w: vector payload of %d bytes does not hold %d vectors of dimension %d",
			ErrCorrupt, len(payload), h.Count, h.Dimension)
	}

	vectors := make([][]float32, h.Count)
	for i := range vectors {
		vec, err := DecodeVector(payload[i*rowSize : (i+1)*rowSize])
		if err != nil {
			return h, nil, err
		}
		vectors[i] = vec
	}
	return h, vectors, nil
}
