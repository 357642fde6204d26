package cog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/gridflow/silogrid/internal/domain"
)

// Encode serialises one grid as a classic little-endian GeoTIFF with a
// single deflate-compressed strip. The profile supplies georeferencing
// for exactly this grid: its transform must already point at the grid's
// top-left pixel and its dimensions must match the grid shape. Masked
// samples are written as the profile's nodata value.
func Encode(w io.Writer, grid *domain.Grid, profile domain.RasterProfile) error {
	if grid == nil || grid.Rows == 0 || grid.Cols == 0 {
		return &domain.ValidationError{Field: "grid", Message: "empty grid"}
	}
	if profile.Width != grid.Cols || profile.Height != grid.Rows {
		return &domain.ValidationError{
			Field: "profile",
			Message: fmt.Sprintf("profile is %dx%d but grid is %dx%d",
				profile.Width, profile.Height, grid.Cols, grid.Rows),
		}
	}
	if profile.DType.Size() == 0 {
		return &domain.ValidationError{Field: "profile", Message: "unknown pixel type"}
	}
	if profile.EPSG <= 0 {
		return &domain.ValidationError{Field: "profile", Message: "missing coordinate reference"}
	}

	strip, err := encodeStrip(grid, profile)
	if err != nil {
		return err
	}

	var nodata string
	if profile.HasNodata {
		nodata = strconv.FormatFloat(profile.Nodata, 'g', -1, 64) + "\x00"
	}

	e := &encoder{order: binary.LittleEndian}
	e.build(grid, profile, strip, nodata)
	_, err = w.Write(e.buf)
	return err
}

// encodeStrip packs the grid samples into raw pixel bytes and deflates
// them into the file's single strip.
func encodeStrip(grid *domain.Grid, profile domain.RasterProfile) ([]byte, error) {
	size := profile.DType.Size()
	raw := make([]byte, grid.Rows*grid.Cols*size)

	fill := 0.0
	if profile.HasNodata {
		fill = profile.Nodata
	}
	for i, v := range grid.Data {
		if grid.Mask[i] {
			v = fill
		}
		putSample(raw[i*size:], profile.DType, v)
	}

	var out sliceWriter
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress strip: %w", domain.ErrInternal)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress strip: %w", domain.ErrInternal)
	}
	return out.buf, nil
}

func putSample(b []byte, dt domain.DType, v float64) {
	switch dt {
	case domain.DTypeUint8:
		b[0] = uint8(v)
	case domain.DTypeInt16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case domain.DTypeUint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case domain.DTypeInt32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case domain.DTypeUint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case domain.DTypeFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case domain.DTypeFloat64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func tiffSampleFormat(dt domain.DType) int {
	switch dt {
	case domain.DTypeInt16, domain.DTypeInt32:
		return sampleFormatSigned
	case domain.DTypeFloat32, domain.DTypeFloat64:
		return sampleFormatFloat
	default:
		return sampleFormatUnsigned
	}
}

type sliceWriter struct {
	buf []byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// encoder assembles the byte layout of one classic TIFF: the 8-byte
// header, a single IFD, the out-of-line tag values, then the strip.
type encoder struct {
	order binary.ByteOrder
	buf   []byte
	tags  []tagValue
}

type tagValue struct {
	tag    int
	typ    int
	count  uint32
	inline uint32 // inline value or offset, patched during layout
	ext    []byte // out-of-line payload, nil when the value fits inline
}

func (e *encoder) build(grid *domain.Grid, profile domain.RasterProfile, strip []byte, nodata string) {
	scale := make([]byte, 24)
	e.putDouble(scale[0:], profile.Transform.A)
	e.putDouble(scale[8:], -profile.Transform.E)
	e.putDouble(scale[16:], 0)

	// Tie the raster's (0,0) pixel to the transform's origin.
	tiepoint := make([]byte, 48)
	e.putDouble(tiepoint[24:], profile.Transform.C)
	e.putDouble(tiepoint[32:], profile.Transform.F)

	e.addShort(tagImageWidth, uint32(grid.Cols))
	e.addShort(tagImageLength, uint32(grid.Rows))
	e.addShort(tagBitsPerSample, uint32(profile.DType.Size()*8))
	e.addShort(tagCompression, compressionDeflate)
	e.addShort(tagPhotometric, photometricBlackIsZero)
	e.add(tagValue{tag: tagStripOffsets, typ: typeLong, count: 1}) // patched below
	e.addShort(tagSamplesPerPixel, 1)
	e.add(tagValue{tag: tagRowsPerStrip, typ: typeLong, count: 1, inline: uint32(grid.Rows)})
	e.add(tagValue{tag: tagStripByteCounts, typ: typeLong, count: 1, inline: uint32(len(strip))})
	e.addShort(tagPlanarConfig, planarConfigContiguous)
	e.addShort(tagSampleFormat, uint32(tiffSampleFormat(profile.DType)))
	e.add(tagValue{tag: tagModelPixelScale, typ: typeDouble, count: 3, ext: scale})
	e.add(tagValue{tag: tagModelTiepoint, typ: typeDouble, count: 6, ext: tiepoint})
	e.add(tagValue{tag: tagGeoKeyDirectory, typ: typeShort, count: 16, ext: e.geoKeys(profile.EPSG)})
	if nodata != "" {
		t := tagValue{tag: tagGDALNodata, typ: typeASCII, count: uint32(len(nodata))}
		if len(nodata) <= 4 {
			var inline [4]byte
			copy(inline[:], nodata)
			t.inline = e.order.Uint32(inline[:])
		} else {
			t.ext = []byte(nodata)
		}
		e.add(t)
	}

	// Layout: header, IFD, external values, strip data.
	ifdOff := uint32(8)
	extOff := ifdOff + 2 + uint32(len(e.tags))*12 + 4
	off := extOff
	for i := range e.tags {
		if e.tags[i].ext != nil {
			e.tags[i].inline = off
			off += uint32(len(e.tags[i].ext))
		}
	}
	stripOff := off
	for i := range e.tags {
		if e.tags[i].tag == tagStripOffsets {
			e.tags[i].inline = stripOff
		}
	}

	e.buf = make([]byte, 0, int(stripOff)+len(strip))
	e.buf = append(e.buf, 'I', 'I', 42, 0)
	e.buf = e.appendUint32(e.buf, ifdOff)

	count := make([]byte, 2)
	e.order.PutUint16(count, uint16(len(e.tags)))
	e.buf = append(e.buf, count...)
	for _, t := range e.tags {
		entry := make([]byte, 12)
		e.order.PutUint16(entry[0:2], uint16(t.tag))
		e.order.PutUint16(entry[2:4], uint16(t.typ))
		e.order.PutUint32(entry[4:8], t.count)
		if t.ext == nil && t.typ == typeShort && t.count == 1 {
			e.order.PutUint16(entry[8:10], uint16(t.inline))
		} else {
			e.order.PutUint32(entry[8:12], t.inline)
		}
		e.buf = append(e.buf, entry...)
	}
	e.buf = e.appendUint32(e.buf, 0) // no further IFDs

	for _, t := range e.tags {
		e.buf = append(e.buf, t.ext...)
	}
	e.buf = append(e.buf, strip...)
}

// geoKeys emits a minimal GeoKey directory declaring the coordinate
// reference and pixel-is-area raster semantics.
func (e *encoder) geoKeys(epsg int) []byte {
	model, codeKey := modelTypeGeographic2D, geoKeyGeographicType
	if epsg != domain.EPSGWGS84 {
		model, codeKey = 1, geoKeyProjectedType
	}
	keys := []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, uint16(model),
		geoKeyRasterType, 0, 1, rasterTypePixelIsArea,
		uint16(codeKey), 0, 1, uint16(epsg),
	}
	buf := make([]byte, len(keys)*2)
	for i, k := range keys {
		e.order.PutUint16(buf[i*2:], k)
	}
	return buf
}

func (e *encoder) add(t tagValue) {
	e.tags = append(e.tags, t)
}

func (e *encoder) addShort(tag int, v uint32) {
	e.add(tagValue{tag: tag, typ: typeShort, count: 1, inline: v})
}

func (e *encoder) putDouble(b []byte, v float64) {
	e.order.PutUint64(b, math.Float64bits(v))
}

func (e *encoder) appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	e.order.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
