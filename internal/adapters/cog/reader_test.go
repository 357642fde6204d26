package cog

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gridflow/silogrid/internal/domain"
)

// geoFixture returns a fixture carrying the georeferencing tags every
// archive raster has: 0.05 degree pixels anchored at (112, -10).
func geoFixture() fixture {
	return fixture{
		pixelScale: []float64{0.05, 0.05, 0},
		tiepoint:   []float64{0, 0, 0, 112, -10, 0},
		geoKeys:    wgs84Keys(),
	}
}

func openFixture(t *testing.T, data []byte) (*File, *memSource) {
	t.Helper()
	src := &memSource{data: data}
	f, err := Open(context.Background(), src, "test-object")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f, src
}

func TestOpenRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{'I', 'I', 42}},
		{"bad byte order", []byte("XXXXXXXXXXXXXXXX")},
		{"bad magic", []byte{'I', 'I', 99, 0, 8, 0, 0, 0}},
		{"no directories", []byte{'I', 'I', 42, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), &memSource{data: tt.data}, "bad-object")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrMalformedRaster) {
				t.Errorf("error = %v, want ErrMalformedRaster", err)
			}
			var re *domain.RasterError
			if !errors.As(err, &re) || re.Key != "bad-object" {
				t.Errorf("error = %v, want RasterError with the object key", err)
			}
		})
	}
}

// hugeCountTIFF builds a BigTIFF whose single IFD entry declares the
// given value count. Unclamped, a hostile count either overflows the
// size arithmetic or drives an enormous allocation.
func hugeCountTIFF(count uint64) []byte {
	// 16-byte header, 8-byte entry count, one 20-byte entry, 8-byte
	// next-IFD offset.
	buf := make([]byte, 52)
	copy(buf, "II")
	binary.LittleEndian.PutUint16(buf[2:], 43)
	binary.LittleEndian.PutUint16(buf[4:], 8)
	binary.LittleEndian.PutUint64(buf[8:], 16) // first IFD offset

	binary.LittleEndian.PutUint64(buf[16:], 1) // one entry
	binary.LittleEndian.PutUint16(buf[24:], tagImageWidth)
	binary.LittleEndian.PutUint16(buf[26:], typeLong8)
	binary.LittleEndian.PutUint64(buf[28:], count)
	// inline value and next-IFD offset stay zero
	return buf
}

func TestOpenRejectsHostileTagCount(t *testing.T) {
	tests := []struct {
		name  string
		count uint64
	}{
		{"overflowing", 1 << 62},
		{"oversized", maxTagValues + 1},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), &memSource{data: hugeCountTIFF(tt.count)}, "hostile")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrMalformedRaster) {
				t.Errorf("error = %v, want ErrMalformedRaster", err)
			}
		})
	}
}

type failingSource struct {
	err error
}

func (f *failingSource) ReadRange(context.Context, int64, int64) ([]byte, error) {
	return nil, f.err
}

func TestOpenPassesThroughTransportErrors(t *testing.T) {
	_, err := Open(context.Background(), &failingSource{err: domain.ErrObjectNotFound}, "missing")
	if !errors.Is(err, domain.ErrObjectNotFound) {
		t.Fatalf("error = %v, want ErrObjectNotFound", err)
	}
	var re *domain.RasterError
	if errors.As(err, &re) {
		t.Fatalf("not-found must not be wrapped as a raster error, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 4, 3
	fx.nodata = "-32767"
	fx.blocks = [][]byte{floatBlock(make([]float32, 4*3))}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	if got := f.Levels(); got != 1 {
		t.Fatalf("Levels() = %d, want 1", got)
	}
	epsg, err := f.EPSG()
	if err != nil || epsg != 4326 {
		t.Fatalf("EPSG() = %d, %v, want 4326", epsg, err)
	}

	p, err := f.Profile(0)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	want := domain.Affine{A: 0.05, C: 112, E: -0.05, F: -10}
	if p.Transform != want {
		t.Errorf("Transform = %+v, want %+v", p.Transform, want)
	}
	if p.Width != 4 || p.Height != 3 {
		t.Errorf("dimensions = %dx%d, want 4x3", p.Width, p.Height)
	}
	if p.DType != domain.DTypeFloat32 {
		t.Errorf("DType = %v, want float32", p.DType)
	}
	if !p.HasNodata || p.Nodata != -32767 {
		t.Errorf("nodata = %v (declared %v), want -32767", p.Nodata, p.HasNodata)
	}

	if _, err := f.Profile(1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Profile(1) error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.Profile(-1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Profile(-1) error = %v, want ErrInvalidInput", err)
	}
}

func TestTiledWindowRead(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 32, 32
	fx.tileW, fx.tileH = 16, 16
	fx.pad = 64 * 1024 // keep tile data out of the prefetched header
	fx.blocks = [][]byte{
		gradientTile(0, 0, 16, 16), gradientTile(0, 1, 16, 16),
		gradientTile(1, 0, 16, 16), gradientTile(1, 1, 16, 16),
	}

	f, src := openFixture(t, buildTIFF(t, false, fx))
	src.hits = 0

	win := domain.Window{Row: 10, Col: 10, Height: 12, Width: 12}
	grid, err := f.ReadWindow(context.Background(), 0, win)
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}

	for r := 0; r < win.Height; r++ {
		for c := 0; c < win.Width; c++ {
			v, valid := grid.At(r, c)
			want := float64((win.Row+r)*1000 + win.Col + c)
			if !valid || v != want {
				t.Fatalf("sample (%d,%d) = %v (valid %v), want %v", r, c, v, valid, want)
			}
		}
	}
	// The window straddles all four tiles: one range request each.
	if src.hits != 4 {
		t.Errorf("range requests = %d, want 4", src.hits)
	}
}

func TestWindowInsideOneTile(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 32, 32
	fx.tileW, fx.tileH = 16, 16
	fx.pad = 64 * 1024
	fx.blocks = [][]byte{
		gradientTile(0, 0, 16, 16), gradientTile(0, 1, 16, 16),
		gradientTile(1, 0, 16, 16), gradientTile(1, 1, 16, 16),
	}

	f, src := openFixture(t, buildTIFF(t, false, fx))
	src.hits = 0

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 20, Col: 3, Height: 2, Width: 2})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if v, _ := grid.At(0, 0); v != 20003 {
		t.Errorf("sample (0,0) = %v, want 20003", v)
	}
	if src.hits != 1 {
		t.Errorf("range requests = %d, want 1", src.hits)
	}
}

func TestSparseTileReadsAsNodata(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 32, 32
	fx.tileW, fx.tileH = 16, 16
	fx.blocks = [][]byte{
		gradientTile(0, 0, 16, 16), gradientTile(0, 1, 16, 16),
		gradientTile(1, 0, 16, 16), nil, // bottom-right tile never written
	}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 14, Col: 14, Height: 4, Width: 4})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			_, valid := grid.At(r, c)
			inSparse := 14+r >= 16 && 14+c >= 16
			if valid == inSparse {
				t.Errorf("sample (%d,%d) valid = %v, sparse region %v", r, c, valid, inSparse)
			}
		}
	}
}

func TestDeflateTiles(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 32, 32
	fx.tileW, fx.tileH = 16, 16
	fx.compression = compressionDeflate
	fx.blocks = [][]byte{
		deflate(t, gradientTile(0, 0, 16, 16)), deflate(t, gradientTile(0, 1, 16, 16)),
		deflate(t, gradientTile(1, 0, 16, 16)), deflate(t, gradientTile(1, 1, 16, 16)),
	}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 0, Col: 0, Height: 32, Width: 32})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if v, _ := grid.At(31, 31); v != 31031 {
		t.Errorf("sample (31,31) = %v, want 31031", v)
	}
}

func TestHorizontalPredictor(t *testing.T) {
	vs := make([]int16, 4*6)
	for i := range vs {
		vs[i] = int16(i*i - 100)
	}
	fx := geoFixture()
	fx.width, fx.height = 6, 4
	fx.bits, fx.format = 16, sampleFormatSigned
	fx.predictor = predictorHorizontal
	fx.blocks = [][]byte{horizontalDiffInt16(vs, 6)}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 0, Col: 0, Height: 4, Width: 6})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	for i, want := range vs {
		if v, _ := grid.At(i/6, i%6); v != float64(want) {
			t.Fatalf("sample %d = %v, want %d", i, v, want)
		}
	}
}

func TestFloatingPointPredictor(t *testing.T) {
	row0 := []float32{1.5, -2.25, 3.75, 1e10, -32767, 0.001, 42, -0.5}
	row1 := []float32{0, 1, 2, 3, 4, 5, 6, 7}

	fx := geoFixture()
	fx.width, fx.height = 8, 2
	fx.predictor = predictorFloatingPoint
	fx.blocks = [][]byte{append(floatPredictRow(row0), floatPredictRow(row1)...)}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 0, Col: 0, Height: 2, Width: 8})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	for c, want := range row0 {
		if v, _ := grid.At(0, c); v != float64(want) {
			t.Errorf("row 0 sample %d = %v, want %v", c, v, want)
		}
	}
	for c, want := range row1 {
		if v, _ := grid.At(1, c); v != float64(want) {
			t.Errorf("row 1 sample %d = %v, want %v", c, v, want)
		}
	}
}

func TestNodataMasking(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 3, 2
	fx.nodata = "-32767"
	fx.blocks = [][]byte{floatBlock([]float32{1, -32767, 3, -32767, 5, 6})}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 0, Col: 0, Height: 2, Width: 3})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if got := grid.ValidCount(); got != 4 {
		t.Errorf("ValidCount() = %d, want 4", got)
	}
	if _, valid := grid.At(0, 1); valid {
		t.Error("nodata sample (0,1) not masked")
	}
	if v, valid := grid.At(1, 2); !valid || v != 6 {
		t.Errorf("sample (1,2) = %v (valid %v), want 6", v, valid)
	}
}

func TestOverviewLevels(t *testing.T) {
	base := geoFixture()
	base.width, base.height = 8, 8
	base.blocks = [][]byte{gradientTile(0, 0, 8, 8)}

	over := fixture{width: 4, height: 4}
	over.blocks = [][]byte{floatBlock(make([]float32, 16))}

	f, _ := openFixture(t, buildTIFF(t, false, base, over))

	if got := f.Levels(); got != 2 {
		t.Fatalf("Levels() = %d, want 2", got)
	}

	p0, err := f.Profile(0)
	if err != nil {
		t.Fatalf("Profile(0): %v", err)
	}
	p1, err := f.Profile(1)
	if err != nil {
		t.Fatalf("Profile(1): %v", err)
	}
	if p1.Width != 4 || p1.Height != 4 {
		t.Errorf("overview dimensions = %dx%d, want 4x4", p1.Width, p1.Height)
	}
	if p1.Transform.A != 2*p0.Transform.A || p1.Transform.E != 2*p0.Transform.E {
		t.Errorf("overview pixel size = (%g,%g), want twice (%g,%g)",
			p1.Transform.A, p1.Transform.E, p0.Transform.A, p0.Transform.E)
	}
	if p1.Transform.C != p0.Transform.C || p1.Transform.F != p0.Transform.F {
		t.Errorf("overview origin = (%g,%g), want (%g,%g)",
			p1.Transform.C, p1.Transform.F, p0.Transform.C, p0.Transform.F)
	}
	if p0.Bounds() != p1.Bounds() {
		t.Errorf("overview bounds %+v differ from base %+v", p1.Bounds(), p0.Bounds())
	}

	grid, err := f.ReadWindow(context.Background(), 1, domain.Window{Row: 0, Col: 0, Height: 4, Width: 4})
	if err != nil {
		t.Fatalf("ReadWindow on overview: %v", err)
	}
	if grid.Rows != 4 || grid.Cols != 4 {
		t.Errorf("overview grid = %dx%d, want 4x4", grid.Rows, grid.Cols)
	}
}

func TestProjectedCoordinateCode(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 2, 2
	fx.geoKeys = []uint16{
		1, 1, 0, 2,
		geoKeyRasterType, 0, 1, rasterTypePixelIsArea,
		geoKeyProjectedType, 0, 1, 28355,
	}
	fx.blocks = [][]byte{floatBlock(make([]float32, 4))}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	epsg, err := f.EPSG()
	if err != nil {
		t.Fatalf("EPSG: %v", err)
	}
	if epsg != 28355 {
		t.Errorf("EPSG() = %d, want 28355", epsg)
	}
}

func TestBigTIFF(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 3, 2
	fx.blocks = [][]byte{floatBlock([]float32{1, 2, 3, 4, 5, 6})}

	f, _ := openFixture(t, buildTIFF(t, true, fx))

	p, err := f.Profile(0)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Width != 3 || p.Height != 2 {
		t.Fatalf("dimensions = %dx%d, want 3x2", p.Width, p.Height)
	}
	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 1, Col: 1, Height: 1, Width: 2})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if v, _ := grid.At(0, 0); v != 5 {
		t.Errorf("sample (0,0) = %v, want 5", v)
	}
	if v, _ := grid.At(0, 1); v != 6 {
		t.Errorf("sample (0,1) = %v, want 6", v)
	}
}

func TestReadWindowRejectsOutOfRange(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 4, 4
	fx.blocks = [][]byte{floatBlock(make([]float32, 16))}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	for _, win := range []domain.Window{
		{Row: 0, Col: 0, Height: 5, Width: 4},
		{Row: 0, Col: 2, Height: 4, Width: 4},
		{Row: -1, Col: 0, Height: 2, Width: 2},
		{Row: 0, Col: 0, Height: 0, Width: 2},
	} {
		if _, err := f.ReadWindow(context.Background(), 0, win); err == nil {
			t.Errorf("ReadWindow(%s) succeeded, want error", win)
		}
	}
}

func TestNaNNodata(t *testing.T) {
	fx := geoFixture()
	fx.width, fx.height = 2, 1
	fx.nodata = "nan"
	fx.blocks = [][]byte{floatBlock([]float32{float32(math.NaN()), 7})}

	f, _ := openFixture(t, buildTIFF(t, false, fx))

	grid, err := f.ReadWindow(context.Background(), 0, domain.Window{Row: 0, Col: 0, Height: 1, Width: 2})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if _, valid := grid.At(0, 0); valid {
		t.Error("NaN sample not masked")
	}
	if v, valid := grid.At(0, 1); !valid || v != 7 {
		t.Errorf("sample (0,1) = %v (valid %v), want 7", v, valid)
	}
}
