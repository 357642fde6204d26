package cog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/gridflow/silogrid/internal/domain"
)

// RangeSource provides the partial reads the reader is built on. A read
// past the end of the object returns the available bytes without error.
type RangeSource interface {
	ReadRange(ctx context.Context, off, length int64) ([]byte, error)
}

// headerPrefetch is how much of the object's head is fetched up front.
// COG layout places the header, all IFDs and the tile indexes there, so
// a windowed read normally costs one prefetch plus one request per tile.
const headerPrefetch = 32 * 1024

// maxLevels bounds IFD chain walks on corrupt files.
const maxLevels = 32

// File is an opened raster. Opening parses structure only; no pixel
// data is transferred until ReadWindow.
type File struct {
	src   *source
	order binary.ByteOrder
	big   bool
	key   string
	ifds  []*ifd
}

// Open parses the raster's header and directory chain.
func Open(ctx context.Context, src RangeSource, key string) (*File, error) {
	prefix, err := src.ReadRange(ctx, 0, headerPrefetch)
	if err != nil {
		return nil, err
	}
	if len(prefix) < 8 {
		return nil, &domain.RasterError{Key: key,
			Err: fmt.Errorf("file too short: %w", domain.ErrMalformedRaster)}
	}

	f := &File{src: &source{src: src, prefix: prefix}, key: key}

	switch {
	case prefix[0] == 'I' && prefix[1] == 'I':
		f.order = binary.LittleEndian
	case prefix[0] == 'M' && prefix[1] == 'M':
		f.order = binary.BigEndian
	default:
		return nil, &domain.RasterError{Key: key,
			Err: fmt.Errorf("not a TIFF file: %w", domain.ErrMalformedRaster)}
	}

	var first int64
	switch f.order.Uint16(prefix[2:4]) {
	case 42:
		first = int64(f.order.Uint32(prefix[4:8]))
	case 43:
		if len(prefix) < 16 || f.order.Uint16(prefix[4:6]) != 8 || f.order.Uint16(prefix[6:8]) != 0 {
			return nil, &domain.RasterError{Key: key,
				Err: fmt.Errorf("bad BigTIFF header: %w", domain.ErrMalformedRaster)}
		}
		f.big = true
		first = int64(f.order.Uint64(prefix[8:16]))
	default:
		return nil, &domain.RasterError{Key: key,
			Err: fmt.Errorf("bad TIFF magic: %w", domain.ErrMalformedRaster)}
	}

	for off := first; off != 0 && len(f.ifds) < maxLevels; {
		d, next, err := f.parseIFD(ctx, off)
		if err != nil {
			return nil, wrapRaster(key, err)
		}
		f.ifds = append(f.ifds, d)
		off = next
	}
	if len(f.ifds) == 0 {
		return nil, &domain.RasterError{Key: key,
			Err: fmt.Errorf("no image directories: %w", domain.ErrMalformedRaster)}
	}
	return f, nil
}

// Levels returns the number of resolution levels: the full-resolution
// image plus its overviews.
func (f *File) Levels() int {
	return len(f.ifds)
}

// EPSG returns the coordinate reference code declared in the GeoTIFF
// keys of the full-resolution image.
func (f *File) EPSG() (int, error) {
	keys := f.ifds[0].geoKeys
	if len(keys) < 4 {
		return 0, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("no GeoTIFF keys: %w", domain.ErrMalformedRaster)}
	}
	n := int(keys[3])
	geographic, projected := 0, 0
	for i := 1; i <= n && (i+1)*4 <= len(keys); i++ {
		id, loc, value := keys[i*4], keys[i*4+1], keys[i*4+3]
		if loc != 0 {
			continue // value stored in another tag; codes are always inline
		}
		switch id {
		case geoKeyGeographicType:
			geographic = int(value)
		case geoKeyProjectedType:
			projected = int(value)
		}
	}
	if projected != 0 {
		return projected, nil
	}
	if geographic != 0 {
		return geographic, nil
	}
	return 0, &domain.RasterError{Key: f.key,
		Err: fmt.Errorf("no coordinate reference in GeoTIFF keys: %w", domain.ErrMalformedRaster)}
}

// Profile derives the georeferencing profile of one resolution level.
// Overviews carry no geo tags of their own; their transform is the
// full-resolution transform scaled by the decimation factor.
func (f *File) Profile(level int) (domain.RasterProfile, error) {
	if level < 0 || level >= len(f.ifds) {
		return domain.RasterProfile{}, &domain.ValidationError{
			Field:      "overview_level",
			Value:      level,
			Constraint: fmt.Sprintf("[0, %d)", len(f.ifds)),
			Message:    "resolution level out of range",
		}
	}
	base, d := f.ifds[0], f.ifds[level]

	if len(base.pixelScale) < 2 || len(base.tiepoint) < 6 {
		return domain.RasterProfile{}, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("missing georeferencing tags: %w", domain.ErrMalformedRaster)}
	}
	if d.width <= 0 || d.height <= 0 {
		return domain.RasterProfile{}, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("invalid dimensions %dx%d: %w", d.width, d.height, domain.ErrMalformedRaster)}
	}

	sx, sy := base.pixelScale[0], base.pixelScale[1]
	// Tiepoint maps pixel (i,j) to coordinate (x,y).
	i, j := base.tiepoint[0], base.tiepoint[1]
	x, y := base.tiepoint[3], base.tiepoint[4]

	tr := domain.Affine{
		A: sx,
		C: x - i*sx,
		E: -sy,
		F: y + j*sy,
	}
	if level > 0 {
		tr.A *= float64(base.width) / float64(d.width)
		tr.E *= float64(base.height) / float64(d.height)
	}

	epsg, err := f.EPSG()
	if err != nil {
		return domain.RasterProfile{}, err
	}
	dt, err := d.dtype()
	if err != nil {
		return domain.RasterProfile{}, &domain.RasterError{Key: f.key, Err: err}
	}

	p := domain.RasterProfile{
		Transform: tr,
		EPSG:      epsg,
		DType:     dt,
		Width:     d.width,
		Height:    d.height,
	}
	if nd := strings.TrimSpace(base.nodata); nd != "" {
		v, err := strconv.ParseFloat(nd, 64)
		if err != nil {
			return domain.RasterProfile{}, &domain.RasterError{Key: f.key,
				Err: fmt.Errorf("bad nodata %q: %w", nd, domain.ErrMalformedRaster)}
		}
		p.Nodata = v
		p.HasNodata = true
	}
	return p, nil
}

// ReadWindow reads one pixel window from the given resolution level,
// fetching only the tiles the window intersects. The returned grid is
// nodata-masked.
func (f *File) ReadWindow(ctx context.Context, level int, win domain.Window) (*domain.Grid, error) {
	p, err := f.Profile(level)
	if err != nil {
		return nil, err
	}
	d := f.ifds[level]

	if d.samplesPerPixel != 1 {
		return nil, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("%d samples per pixel: %w", d.samplesPerPixel, domain.ErrUnsupported)}
	}
	if win.Col < 0 || win.Row < 0 ||
		win.Col+win.Width > d.width || win.Row+win.Height > d.height ||
		win.Width <= 0 || win.Height <= 0 {
		return nil, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("%s exceeds raster %dx%d: %w", win, d.width, d.height, domain.ErrInternal)}
	}

	blockW, blockH := d.tileWidth, d.tileLength
	offsets, counts := d.tileOffsets, d.tileByteCounts
	if !d.tiled() {
		blockW = d.width
		blockH = d.rowsPerStrip
		if blockH <= 0 {
			blockH = d.height
		}
		offsets, counts = d.stripOffsets, d.stripByteCounts
	}
	if blockW <= 0 || blockH <= 0 || len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, &domain.RasterError{Key: f.key,
			Err: fmt.Errorf("missing tile layout: %w", domain.ErrMalformedRaster)}
	}
	blocksAcross := (d.width + blockW - 1) / blockW

	dt, err := d.dtype()
	if err != nil {
		return nil, &domain.RasterError{Key: f.key, Err: err}
	}
	sampleSize := dt.Size()

	grid := domain.NewGrid(win.Height, win.Width)

	for br := win.Row / blockH; br <= (win.Row+win.Height-1)/blockH; br++ {
		for bc := win.Col / blockW; bc <= (win.Col+win.Width-1)/blockW; bc++ {
			idx := br*blocksAcross + bc
			if idx >= len(offsets) {
				return nil, &domain.RasterError{Key: f.key,
					Err: fmt.Errorf("tile index %d out of range: %w", idx, domain.ErrMalformedRaster)}
			}

			// Edge tiles are padded to the full tile size; edge strips
			// are not.
			rowsInBlock := blockH
			if !d.tiled() {
				if rows := d.height - br*blockH; rows < rowsInBlock {
					rowsInBlock = rows
				}
			}

			// Sparse blocks (offset and count zero) hold only nodata.
			if counts[idx] == 0 {
				f.fillMasked(grid, win, br, bc, blockW, blockH, rowsInBlock)
				continue
			}

			raw, err := f.src.read(ctx, int64(offsets[idx]), int64(counts[idx]))
			if err != nil {
				return nil, err
			}
			data, err := decompress(raw, d.compression)
			if err != nil {
				return nil, &domain.RasterError{Key: f.key, Err: err}
			}

			want := blockW * rowsInBlock * sampleSize
			if len(data) < want {
				return nil, &domain.RasterError{Key: f.key,
					Err: fmt.Errorf("tile %d: %d bytes, want %d: %w",
						idx, len(data), want, domain.ErrMalformedRaster)}
			}

			if err := f.unpredict(data, d.predictor, rowsInBlock, blockW, sampleSize); err != nil {
				return nil, &domain.RasterError{Key: f.key, Err: err}
			}

			f.copyBlock(grid, data, win, br, bc, blockW, blockH, rowsInBlock, dt, p)
		}
	}
	return grid, nil
}

// copyBlock copies the window-overlapping portion of one decoded block
// into the output grid, masking nodata samples. The block covers pixel
// rows [br*blockH, br*blockH+rowsInBlock) and columns
// [bc*blockW, (bc+1)*blockW).
func (f *File) copyBlock(grid *domain.Grid, data []byte, win domain.Window, br, bc, blockW, blockH, rowsInBlock int, dt domain.DType, p domain.RasterProfile) {
	rowStart := max(win.Row, br*blockH)
	rowEnd := min(win.Row+win.Height, br*blockH+rowsInBlock)
	colStart := max(win.Col, bc*blockW)
	colEnd := min(win.Col+win.Width, (bc+1)*blockW)

	for r := rowStart; r < rowEnd; r++ {
		for c := colStart; c < colEnd; c++ {
			v := f.sample(data, (r-br*blockH)*blockW+(c-bc*blockW), dt)
			valid := true
			if p.HasNodata {
				if v == p.Nodata || (math.IsNaN(p.Nodata) && math.IsNaN(v)) {
					valid = false
				}
			}
			grid.Set(r-win.Row, c-win.Col, v, valid)
		}
	}
}

// fillMasked marks the window-overlapping portion of a sparse block as
// nodata.
func (f *File) fillMasked(grid *domain.Grid, win domain.Window, br, bc, blockW, blockH, rowsInBlock int) {
	rowStart := max(win.Row, br*blockH)
	rowEnd := min(win.Row+win.Height, br*blockH+rowsInBlock)
	colStart := max(win.Col, bc*blockW)
	colEnd := min(win.Col+win.Width, (bc+1)*blockW)

	for r := rowStart; r < rowEnd; r++ {
		for c := colStart; c < colEnd; c++ {
			grid.Set(r-win.Row, c-win.Col, 0, false)
		}
	}
}

// unpredict reverses the TIFF predictor in place.
func (f *File) unpredict(data []byte, predictor, rows, width, sampleSize int) error {
	switch predictor {
	case predictorNone:
		return nil
	case predictorHorizontal:
		for r := 0; r < rows; r++ {
			row := data[r*width*sampleSize : (r+1)*width*sampleSize]
			switch sampleSize {
			case 1:
				for i := 1; i < width; i++ {
					row[i] += row[i-1]
				}
			case 2:
				for i := 1; i < width; i++ {
					v := f.order.Uint16(row[(i-1)*2:]) + f.order.Uint16(row[i*2:])
					f.order.PutUint16(row[i*2:], v)
				}
			case 4:
				for i := 1; i < width; i++ {
					v := f.order.Uint32(row[(i-1)*4:]) + f.order.Uint32(row[i*4:])
					f.order.PutUint32(row[i*4:], v)
				}
			default:
				return fmt.Errorf("horizontal predictor with %d-byte samples: %w",
					sampleSize, domain.ErrUnsupported)
			}
		}
		return nil
	case predictorFloatingPoint:
		for r := 0; r < rows; r++ {
			row := data[r*width*sampleSize : (r+1)*width*sampleSize]
			unshuffleFloatRow(row, width, sampleSize, f.order)
		}
		return nil
	default:
		return fmt.Errorf("predictor %d: %w", predictor, domain.ErrUnsupported)
	}
}

// unshuffleFloatRow reverses the floating-point predictor: undo the
// byte-wise differencing, then de-interleave the byte planes back into
// samples in the file's byte order.
func unshuffleFloatRow(row []byte, width, sampleSize int, order binary.ByteOrder) {
	for i := 1; i < len(row); i++ {
		row[i] += row[i-1]
	}
	tmp := make([]byte, len(row))
	for i := 0; i < width; i++ {
		for b := 0; b < sampleSize; b++ {
			// Byte planes are stored most-significant first.
			tmp[i*sampleSize+b] = row[b*width+i]
		}
	}
	if order == binary.LittleEndian {
		for i := 0; i < width; i++ {
			s := tmp[i*sampleSize : (i+1)*sampleSize]
			for a, b := 0, sampleSize-1; a < b; a, b = a+1, b-1 {
				s[a], s[b] = s[b], s[a]
			}
		}
	}
	copy(row, tmp)
}

// sample decodes the i-th sample of a decoded block.
func (f *File) sample(data []byte, i int, dt domain.DType) float64 {
	switch dt {
	case domain.DTypeUint8:
		return float64(data[i])
	case domain.DTypeInt16:
		return float64(int16(f.order.Uint16(data[i*2:])))
	case domain.DTypeUint16:
		return float64(f.order.Uint16(data[i*2:]))
	case domain.DTypeInt32:
		return float64(int32(f.order.Uint32(data[i*4:])))
	case domain.DTypeUint32:
		return float64(f.order.Uint32(data[i*4:]))
	case domain.DTypeFloat32:
		return float64(math.Float32frombits(f.order.Uint32(data[i*4:])))
	case domain.DTypeFloat64:
		return math.Float64frombits(f.order.Uint64(data[i*8:]))
	default:
		return math.NaN()
	}
}

// decompress expands one block's raw bytes.
func decompress(raw []byte, compression int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("compression %d: %w", compression, domain.ErrUnsupported)
	}
}

// wrapRaster tags structural parse errors with the object key, leaving
// transport and not-found errors as they are so callers can still
// classify them.
func wrapRaster(key string, err error) error {
	var te *domain.TransportError
	if errors.As(err, &te) || errors.Is(err, domain.ErrObjectNotFound) {
		return err
	}
	return &domain.RasterError{Key: key, Err: err}
}
