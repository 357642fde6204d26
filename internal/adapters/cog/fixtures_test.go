package cog

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// memSource serves range reads out of an in-memory object and counts
// the requests it receives.
type memSource struct {
	data []byte
	hits int
}

func (m *memSource) ReadRange(_ context.Context, off, length int64) ([]byte, error) {
	m.hits++
	if off >= int64(len(m.data)) {
		return nil, nil
	}
	end := off + length
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	return m.data[off:end], nil
}

// fixture describes one image directory of a synthetic test file.
type fixture struct {
	width, height int
	tileW, tileH  int // zero means strip layout
	rowsPerStrip  int
	compression   int
	predictor     int
	bits          int
	format        int
	blocks        [][]byte // row-major block payloads, nil means sparse

	pixelScale []float64
	tiepoint   []float64
	geoKeys    []uint16
	nodata     string

	pad int // filler before the block data, to push it past the header prefetch
}

type fixtureEntry struct {
	tag, typ int
	count    uint32
	payload  []byte
}

// buildTIFF assembles a little-endian test file from one or more image
// directories. The first directory is the full-resolution image, any
// further ones are its overviews.
func buildTIFF(t *testing.T, big bool, fixtures ...fixture) []byte {
	t.Helper()
	le := binary.LittleEndian

	headerSize := 8
	countSize, entrySize, nextSize := 2, 12, 4
	inlineCap := 4
	if big {
		headerSize, countSize, entrySize, nextSize, inlineCap = 16, 8, 20, 8, 8
	}

	type segment struct {
		entries []fixtureEntry
		ext     []byte
		blocks  []byte
		start   int
	}

	segs := make([]segment, len(fixtures))
	off := headerSize
	for si, fx := range fixtures {
		entries := fixtureEntries(t, fx)

		ifdSize := countSize + len(entries)*entrySize + nextSize
		extOff := off + ifdSize

		// The external area's size is known before its contents are:
		// every value larger than the inline field goes there.
		extSize := 0
		for _, e := range entries {
			if size := fieldSize(e.typ) * int(e.count); size > inlineCap {
				extSize += size
			}
		}

		// Lay out the block data after the external area and fill in
		// the offset and byte-count arrays.
		blockStart := extOff + extSize + fx.pad
		var blocks []byte
		offsets := make([]byte, 0, len(fx.blocks)*4)
		counts := make([]byte, 0, len(fx.blocks)*4)
		for _, b := range fx.blocks {
			var o, n uint32
			if b != nil {
				o, n = uint32(blockStart+len(blocks)), uint32(len(b))
				blocks = append(blocks, b...)
			}
			offsets = le.AppendUint32(offsets, o)
			counts = le.AppendUint32(counts, n)
		}
		offsetTag, countTag := tagStripOffsets, tagStripByteCounts
		if fx.tileW > 0 {
			offsetTag, countTag = tagTileOffsets, tagTileByteCounts
		}
		for i := range entries {
			switch entries[i].tag {
			case offsetTag:
				entries[i].payload = offsets
			case countTag:
				entries[i].payload = counts
			}
		}

		// Move out-of-line values into the external area.
		var ext []byte
		for i := range entries {
			if size := fieldSize(entries[i].typ) * int(entries[i].count); size > inlineCap {
				pos := extOff + len(ext)
				ext = append(ext, entries[i].payload...)
				entries[i].payload = offsetBytes(big, uint64(pos))
			}
		}
		if fx.pad > 0 {
			blocks = append(make([]byte, fx.pad), blocks...)
		}

		segs[si] = segment{entries: entries, ext: ext, blocks: blocks, start: off}
		off = blockStart + len(blocks) - fx.pad
	}

	buf := make([]byte, 0, off)
	if big {
		buf = append(buf, 'I', 'I', 43, 0, 8, 0, 0, 0)
		buf = le.AppendUint64(buf, uint64(headerSize))
	} else {
		buf = append(buf, 'I', 'I', 42, 0)
		buf = le.AppendUint32(buf, uint32(headerSize))
	}

	for si, seg := range segs {
		if big {
			buf = le.AppendUint64(buf, uint64(len(seg.entries)))
		} else {
			buf = le.AppendUint16(buf, uint16(len(seg.entries)))
		}
		for _, e := range seg.entries {
			buf = le.AppendUint16(buf, uint16(e.tag))
			buf = le.AppendUint16(buf, uint16(e.typ))
			if big {
				buf = le.AppendUint64(buf, uint64(e.count))
			} else {
				buf = le.AppendUint32(buf, e.count)
			}
			field := make([]byte, inlineCap)
			copy(field, e.payload)
			buf = append(buf, field...)
		}
		next := 0
		if si+1 < len(segs) {
			next = segs[si+1].start
		}
		if big {
			buf = le.AppendUint64(buf, uint64(next))
		} else {
			buf = le.AppendUint32(buf, uint32(next))
		}
		buf = append(buf, seg.ext...)
		buf = append(buf, seg.blocks...)
	}
	return buf
}

func offsetBytes(big bool, off uint64) []byte {
	if big {
		return binary.LittleEndian.AppendUint64(nil, off)
	}
	return binary.LittleEndian.AppendUint32(nil, uint32(off))
}

func fixtureEntries(t *testing.T, fx fixture) []fixtureEntry {
	t.Helper()
	le := binary.LittleEndian

	short := func(v int) []byte { return le.AppendUint16(nil, uint16(v)) }
	long := func(v int) []byte { return le.AppendUint32(nil, uint32(v)) }
	doubles := func(vs []float64) []byte {
		out := make([]byte, 0, len(vs)*8)
		for _, v := range vs {
			out = le.AppendUint64(out, math.Float64bits(v))
		}
		return out
	}
	shorts := func(vs []uint16) []byte {
		out := make([]byte, 0, len(vs)*2)
		for _, v := range vs {
			out = le.AppendUint16(out, v)
		}
		return out
	}

	bits, format := fx.bits, fx.format
	if bits == 0 {
		bits = 32
	}
	if format == 0 {
		format = sampleFormatFloat
	}
	compression := fx.compression
	if compression == 0 {
		compression = compressionNone
	}
	nBlocks := uint32(len(fx.blocks))

	var entries []fixtureEntry
	add := func(tag, typ int, count uint32, payload []byte) {
		entries = append(entries, fixtureEntry{tag: tag, typ: typ, count: count, payload: payload})
	}

	add(tagImageWidth, typeLong, 1, long(fx.width))
	add(tagImageLength, typeLong, 1, long(fx.height))
	add(tagBitsPerSample, typeShort, 1, short(bits))
	add(tagCompression, typeShort, 1, short(compression))
	add(tagPhotometric, typeShort, 1, short(photometricBlackIsZero))
	if fx.tileW == 0 {
		rps := fx.rowsPerStrip
		if rps == 0 {
			rps = fx.height
		}
		add(tagStripOffsets, typeLong, nBlocks, nil) // patched by the builder
		add(tagSamplesPerPixel, typeShort, 1, short(1))
		add(tagRowsPerStrip, typeLong, 1, long(rps))
		add(tagStripByteCounts, typeLong, nBlocks, nil)
	} else {
		add(tagSamplesPerPixel, typeShort, 1, short(1))
	}
	add(tagPlanarConfig, typeShort, 1, short(planarConfigContiguous))
	if fx.predictor != 0 {
		add(tagPredictor, typeShort, 1, short(fx.predictor))
	}
	if fx.tileW > 0 {
		add(tagTileWidth, typeShort, 1, short(fx.tileW))
		add(tagTileLength, typeShort, 1, short(fx.tileH))
		add(tagTileOffsets, typeLong, nBlocks, nil)
		add(tagTileByteCounts, typeLong, nBlocks, nil)
	}
	add(tagSampleFormat, typeShort, 1, short(format))
	if len(fx.pixelScale) > 0 {
		add(tagModelPixelScale, typeDouble, uint32(len(fx.pixelScale)), doubles(fx.pixelScale))
	}
	if len(fx.tiepoint) > 0 {
		add(tagModelTiepoint, typeDouble, uint32(len(fx.tiepoint)), doubles(fx.tiepoint))
	}
	if len(fx.geoKeys) > 0 {
		add(tagGeoKeyDirectory, typeShort, uint32(len(fx.geoKeys)), shorts(fx.geoKeys))
	}
	if fx.nodata != "" {
		nd := fx.nodata + "\x00"
		add(tagGDALNodata, typeASCII, uint32(len(nd)), []byte(nd))
	}
	return entries
}

// wgs84Keys is a minimal GeoKey directory declaring EPSG:4326.
func wgs84Keys() []uint16 {
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelTypeGeographic2D,
		geoKeyRasterType, 0, 1, rasterTypePixelIsArea,
		geoKeyGeographicType, 0, 1, 4326,
	}
}

// floatBlock packs row-major float32 samples in little-endian order.
func floatBlock(vs []float32) []byte {
	out := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// gradientTile fills one tileW x tileH tile of a gradient image whose
// sample at (row, col) is row*1000 + col.
func gradientTile(tileRow, tileCol, tileW, tileH int) []byte {
	vs := make([]float32, tileW*tileH)
	for r := 0; r < tileH; r++ {
		for c := 0; c < tileW; c++ {
			vs[r*tileW+c] = float32((tileRow*tileH+r)*1000 + tileCol*tileW + c)
		}
	}
	return floatBlock(vs)
}

// deflate compresses a block the way the archive's rasters are stored.
func deflate(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("compress fixture block: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close fixture compressor: %v", err)
	}
	return buf.Bytes()
}

// horizontalDiffInt16 applies the horizontal predictor to row-major
// int16 samples, producing the bytes as stored on disk.
func horizontalDiffInt16(vs []int16, width int) []byte {
	le := binary.LittleEndian
	out := make([]byte, 0, len(vs)*2)
	for r := 0; r*width < len(vs); r++ {
		row := vs[r*width : (r+1)*width]
		prev := int16(0)
		for i, v := range row {
			d := v
			if i > 0 {
				d = v - prev
			}
			prev = v
			out = le.AppendUint16(out, uint16(d))
		}
	}
	return out
}

// floatPredictRow applies the floating-point predictor to one row of
// float32 samples: split into big-endian byte planes, then difference.
func floatPredictRow(vs []float32) []byte {
	width := len(vs)
	planes := make([]byte, width*4)
	for i, v := range vs {
		bits := math.Float32bits(v)
		planes[0*width+i] = byte(bits >> 24)
		planes[1*width+i] = byte(bits >> 16)
		planes[2*width+i] = byte(bits >> 8)
		planes[3*width+i] = byte(bits)
	}
	for i := len(planes) - 1; i > 0; i-- {
		planes[i] -= planes[i-1]
	}
	return planes
}
