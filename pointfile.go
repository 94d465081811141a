package covertree

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

var pointFileMagic = [4]byte{'C', 'T', 'P', 'F'}

// pointFileHeader is the fixed-width header described in spec §4.9: magic,
// point count, dimensionality, and the floating-point width of the payload
// that follows it row-major.
type pointFileHeader struct {
	Magic   [4]byte
	N       uint64
	Dims    uint64
	FPBytes uint32
	Pad     uint32
}

const pointFileHeaderSize = 4 + 8 + 8 + 4 + 4

// ReadPointFile reads a binary point cloud from path, per the header format
// of spec §4.9. float32 payloads are upcast to float64 internally; the
// builder always operates on float64 coordinates.
func ReadPointFile(path string) (*PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("open point file: %v", err)}
	}
	defer f.Close()

	var hdr pointFileHeader
	raw := make([]byte, pointFileHeaderSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("read point file header: %v", err)}
	}
	copy(hdr.Magic[:], raw[0:4])
	hdr.N = binary.LittleEndian.Uint64(raw[4:12])
	hdr.Dims = binary.LittleEndian.Uint64(raw[12:20])
	hdr.FPBytes = binary.LittleEndian.Uint32(raw[20:24])
	hdr.Pad = binary.LittleEndian.Uint32(raw[24:28])

	if hdr.Magic != pointFileMagic {
		return nil, &InputError{Msg: fmt.Sprintf("bad point file magic: %q", hdr.Magic)}
	}
	if hdr.FPBytes != 4 && hdr.FPBytes != 8 {
		return nil, &InputError{Msg: fmt.Sprintf("unsupported point file fp width: %d", hdr.FPBytes)}
	}
	if hdr.Pad != 0 {
		return nil, &InputError{Msg: "point file reserved header field is non-zero"}
	}

	n := int(hdr.N)
	dims := int(hdr.Dims)
	payload := make([]byte, n*dims*int(hdr.FPBytes))
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("read point file payload: %v", err)}
	}

	data := make([]float64, n*dims)
	if hdr.FPBytes == 8 {
		for i := range data {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8 : i*8+8]))
		}
	} else {
		for i := range data {
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4 : i*4+4])))
		}
	}

	return NewPointSet(data, n, dims), nil
}

// WritePointFile writes points to path in the format ReadPointFile expects,
// always at 8-byte (float64) width.
func WritePointFile(path string, points *PointSet) error {
	f, err := os.Create(path)
	if err != nil {
		return &ResourceError{Op: "create point file", Err: err}
	}
	defer f.Close()

	raw := make([]byte, pointFileHeaderSize)
	copy(raw[0:4], pointFileMagic[:])
	binary.LittleEndian.PutUint64(raw[4:12], uint64(points.Len()))
	binary.LittleEndian.PutUint64(raw[12:20], uint64(points.Dims()))
	binary.LittleEndian.PutUint32(raw[20:24], 8)
	binary.LittleEndian.PutUint32(raw[24:28], 0)
	if _, err := f.Write(raw); err != nil {
		return &ResourceError{Op: "write point file header", Err: err}
	}

	payload := make([]byte, points.Len()*points.Dims()*8)
	for i := 0; i < points.Len(); i++ {
		for j, c := range points.At(i) {
			off := (i*points.Dims() + j) * 8
			binary.LittleEndian.PutUint64(payload[off:off+8], math.Float64bits(c))
		}
	}
	if _, err := f.Write(payload); err != nil {
		return &ResourceError{Op: "write point file payload", Err: err}
	}
	return nil
}
