// Package cog reads and writes tiled GeoTIFF rasters using partial
// range reads, so a windowed read of a remote object transfers only the
// header and the tiles the window touches.
package cog

import (
	"context"
	"fmt"
	"math"

	"github.com/gridflow/silogrid/internal/domain"
)

// TIFF tag codes used by the reader and writer.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNodata      = 42113
)

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12
	typeLong8    = 16
	typeSLong8   = 17
	typeIFD8     = 18
)

// GeoTIFF key codes.
const (
	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
)

// Compression codes the reader understands.
const (
	compressionNone         = 1
	compressionDeflate      = 8
	compressionDeflateOld   = 32946
	predictorNone           = 1
	predictorHorizontal     = 2
	predictorFloatingPoint  = 3
	sampleFormatUnsigned    = 1
	sampleFormatSigned      = 2
	sampleFormatFloat       = 3
	photometricBlackIsZero  = 1
	planarConfigContiguous  = 1
	rasterTypePixelIsArea   = 1
	modelTypeGeographic2D   = 2
)

func fieldSize(typ int) int {
	switch typ {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeRational, typeDouble, typeLong8, typeSLong8, typeIFD8:
		return 8
	default:
		return 0
	}
}

// entry is one raw IFD entry before value resolution.
type entry struct {
	tag    int
	typ    int
	count  uint64
	inline []byte // raw value field (4 bytes classic, 8 BigTIFF)
}

// ifd holds the decoded tags of one image (full resolution or overview).
type ifd struct {
	width, height   int
	bits            int
	sampleFormat    int
	samplesPerPixel int
	compression     int
	predictor       int

	tileWidth, tileLength int
	tileOffsets           []uint64
	tileByteCounts        []uint64

	rowsPerStrip    int
	stripOffsets    []uint64
	stripByteCounts []uint64

	pixelScale []float64
	tiepoint   []float64
	geoKeys    []uint16
	nodata     string
}

func (d *ifd) tiled() bool {
	return len(d.tileOffsets) > 0
}

// dtype maps bits-per-sample and sample format to a pixel type.
func (d *ifd) dtype() (domain.DType, error) {
	switch d.sampleFormat {
	case sampleFormatUnsigned:
		switch d.bits {
		case 8:
			return domain.DTypeUint8, nil
		case 16:
			return domain.DTypeUint16, nil
		case 32:
			return domain.DTypeUint32, nil
		}
	case sampleFormatSigned:
		switch d.bits {
		case 16:
			return domain.DTypeInt16, nil
		case 32:
			return domain.DTypeInt32, nil
		}
	case sampleFormatFloat:
		switch d.bits {
		case 32:
			return domain.DTypeFloat32, nil
		case 64:
			return domain.DTypeFloat64, nil
		}
	}
	return domain.DTypeUnknown, fmt.Errorf("sample format %d with %d bits: %w",
		d.sampleFormat, d.bits, domain.ErrUnsupported)
}

// source serves reads either out of the cached header prefix or as a
// fresh range request against the backing object.
type source struct {
	src    RangeSource
	prefix []byte
}

func (s *source) read(ctx context.Context, off, length int64) ([]byte, error) {
	if off >= 0 && off+length <= int64(len(s.prefix)) {
		return s.prefix[off : off+length], nil
	}
	return s.src.ReadRange(ctx, off, length)
}

// parseIFD reads one IFD at off and returns the decoded tags plus the
// offset of the next IFD (zero when there is none).
func (f *File) parseIFD(ctx context.Context, off int64) (*ifd, int64, error) {
	var (
		countSize int64 = 2
		entrySize int64 = 12
		nextSize  int64 = 4
	)
	if f.big {
		countSize, entrySize, nextSize = 8, 20, 8
	}

	head, err := f.src.read(ctx, off, countSize)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(head)) < countSize {
		return nil, 0, fmt.Errorf("truncated IFD header: %w", domain.ErrMalformedRaster)
	}

	var n uint64
	if f.big {
		n = f.order.Uint64(head)
	} else {
		n = uint64(f.order.Uint16(head))
	}
	if n == 0 || n > 4096 {
		return nil, 0, fmt.Errorf("IFD entry count %d: %w", n, domain.ErrMalformedRaster)
	}

	body, err := f.src.read(ctx, off+countSize, int64(n)*entrySize+nextSize)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(body)) < int64(n)*entrySize+nextSize {
		return nil, 0, fmt.Errorf("truncated IFD body: %w", domain.ErrMalformedRaster)
	}

	d := &ifd{
		bits:            8,
		sampleFormat:    sampleFormatUnsigned,
		samplesPerPixel: 1,
		compression:     compressionNone,
		predictor:       predictorNone,
	}

	for i := int64(0); i < int64(n); i++ {
		raw := body[i*entrySize : (i+1)*entrySize]
		e := entry{
			tag: int(f.order.Uint16(raw[0:2])),
			typ: int(f.order.Uint16(raw[2:4])),
		}
		if f.big {
			e.count = f.order.Uint64(raw[4:12])
			e.inline = raw[12:20]
		} else {
			e.count = uint64(f.order.Uint32(raw[4:8]))
			e.inline = raw[8:12]
		}
		if err := f.applyEntry(ctx, d, e); err != nil {
			return nil, 0, err
		}
	}

	var next int64
	tail := body[int64(n)*entrySize:]
	if f.big {
		next = int64(f.order.Uint64(tail))
	} else {
		next = int64(f.order.Uint32(tail))
	}
	return d, next, nil
}

// applyEntry decodes one tag into the ifd, loading out-of-line values
// with range reads when necessary.
func (f *File) applyEntry(ctx context.Context, d *ifd, e entry) error {
	switch e.tag {
	case tagImageWidth:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.width = int(v)
	case tagImageLength:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.height = int(v)
	case tagBitsPerSample:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		if len(vs) > 0 {
			d.bits = int(vs[0])
		}
	case tagCompression:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.compression = int(v)
	case tagSamplesPerPixel:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.samplesPerPixel = int(v)
	case tagPredictor:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.predictor = int(v)
	case tagTileWidth:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.tileWidth = int(v)
	case tagTileLength:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.tileLength = int(v)
	case tagTileOffsets:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		d.tileOffsets = vs
	case tagTileByteCounts:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		d.tileByteCounts = vs
	case tagRowsPerStrip:
		v, err := f.uintValue(ctx, e)
		if err != nil {
			return err
		}
		d.rowsPerStrip = int(v)
	case tagStripOffsets:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		d.stripOffsets = vs
	case tagStripByteCounts:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		d.stripByteCounts = vs
	case tagSampleFormat:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		if len(vs) > 0 {
			d.sampleFormat = int(vs[0])
		}
	case tagModelPixelScale:
		vs, err := f.doubleValues(ctx, e)
		if err != nil {
			return err
		}
		d.pixelScale = vs
	case tagModelTiepoint:
		vs, err := f.doubleValues(ctx, e)
		if err != nil {
			return err
		}
		d.tiepoint = vs
	case tagGeoKeyDirectory:
		vs, err := f.uintValues(ctx, e)
		if err != nil {
			return err
		}
		keys := make([]uint16, len(vs))
		for i, v := range vs {
			keys[i] = uint16(v)
		}
		d.geoKeys = keys
	case tagGDALNodata:
		s, err := f.asciiValue(ctx, e)
		if err != nil {
			return err
		}
		d.nodata = s
	}
	return nil
}

// maxTagValues bounds a single tag's value count. The count comes off
// the wire as uint64; unchecked it can overflow the size arithmetic or
// drive a huge allocation.
const maxTagValues = 1 << 20

// valueBytes resolves an entry's raw value bytes, inline or via offset.
func (f *File) valueBytes(ctx context.Context, e entry) ([]byte, error) {
	size := fieldSize(e.typ)
	if size == 0 {
		return nil, fmt.Errorf("field type %d: %w", e.typ, domain.ErrMalformedRaster)
	}
	if e.count == 0 || e.count > maxTagValues {
		return nil, fmt.Errorf("tag %d value count %d: %w", e.tag, e.count, domain.ErrMalformedRaster)
	}
	total := int64(size) * int64(e.count)

	inlineCap := int64(4)
	if f.big {
		inlineCap = 8
	}
	if total <= inlineCap {
		return e.inline[:total], nil
	}

	var off int64
	if f.big {
		off = int64(f.order.Uint64(e.inline))
	} else {
		off = int64(f.order.Uint32(e.inline))
	}
	buf, err := f.src.read(ctx, off, total)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < total {
		return nil, fmt.Errorf("truncated tag value: %w", domain.ErrMalformedRaster)
	}
	return buf, nil
}

func (f *File) uintValues(ctx context.Context, e entry) ([]uint64, error) {
	buf, err := f.valueBytes(ctx, e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint64(buf[i])
		case typeShort:
			out[i] = uint64(f.order.Uint16(buf[i*2:]))
		case typeLong:
			out[i] = uint64(f.order.Uint32(buf[i*4:]))
		case typeLong8, typeIFD8:
			out[i] = f.order.Uint64(buf[i*8:])
		default:
			return nil, fmt.Errorf("unexpected integer field type %d: %w",
				e.typ, domain.ErrMalformedRaster)
		}
	}
	return out, nil
}

func (f *File) uintValue(ctx context.Context, e entry) (uint64, error) {
	vs, err := f.uintValues(ctx, e)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, fmt.Errorf("empty tag %d: %w", e.tag, domain.ErrMalformedRaster)
	}
	return vs[0], nil
}

func (f *File) doubleValues(ctx context.Context, e entry) ([]float64, error) {
	if e.typ != typeDouble {
		return nil, fmt.Errorf("tag %d: expected DOUBLE, got type %d: %w",
			e.tag, e.typ, domain.ErrMalformedRaster)
	}
	buf, err := f.valueBytes(ctx, e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(f.order.Uint64(buf[i*8:]))
	}
	return out, nil
}

func (f *File) asciiValue(ctx context.Context, e entry) (string, error) {
	buf, err := f.valueBytes(ctx, e)
	if err != nil {
		return "", err
	}
	// ASCII values are NUL terminated.
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}
