package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/gridflow/silogrid/internal/adapters/cog"
	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// fakeStore is an in-memory ObjectStore that counts accesses, so tests
// can assert on the number of network transfers a code path performs.
type fakeStore struct {
	objects    map[string][]byte
	failWith   error // when set, every access fails with this error
	rangeCalls int
	fetchCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) networkCalls() int {
	return s.rangeCalls + s.fetchCalls
}

func (s *fakeStore) object(key string) ([]byte, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrObjectNotFound
	}
	return data, nil
}

func (s *fakeStore) ReadRange(_ context.Context, key string, off, length int64) ([]byte, error) {
	s.rangeCalls++
	data, err := s.object(key)
	if err != nil {
		return nil, err
	}
	if off >= int64(len(data)) {
		return nil, nil
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end], nil
}

func (s *fakeStore) Size(_ context.Context, key string) (int64, error) {
	data, err := s.object(key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *fakeStore) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	s.fetchCalls++
	data, err := s.object(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	if s.failWith != nil {
		return false, s.failWith
	}
	_, ok := s.objects[key]
	return ok, nil
}

// fakeRegistry resolves a fixed descriptor table.
type fakeRegistry struct {
	variables map[string][]domain.VariableDescriptor
}

func (r *fakeRegistry) Lookup(name string) ([]domain.VariableDescriptor, error) {
	vs, ok := r.variables[name]
	if !ok {
		return nil, domain.ErrUnknownVariable
	}
	return vs, nil
}

func (r *fakeRegistry) All() []domain.VariableDescriptor {
	var out []domain.VariableDescriptor
	for _, vs := range r.variables {
		out = append(out, vs...)
	}
	return out
}

// recordingInventory captures cache inventory calls.
type recordingInventory struct {
	entries []output.CacheEntry
	removed []string
}

func (i *recordingInventory) Record(_ context.Context, e output.CacheEntry) error {
	i.entries = append(i.entries, e)
	return nil
}

func (i *recordingInventory) Remove(_ context.Context, path string) error {
	i.removed = append(i.removed, path)
	return nil
}

func (i *recordingInventory) CountByVariable(_ context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, e := range i.entries {
		counts[e.Variable]++
	}
	return counts, nil
}

func (i *recordingInventory) Close() error { return nil }

// byteSource adapts raw bytes to the raster reader, for inspecting
// files the persister wrote.
type byteSource []byte

func (b byteSource) ReadRange(_ context.Context, off, length int64) ([]byte, error) {
	if off >= int64(len(b)) {
		return nil, nil
	}
	end := off + length
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[off:end], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	dailyRain = domain.VariableDescriptor{
		Name:        "daily_rain",
		APICode:     "R",
		DisplayName: "Daily rainfall",
		Units:       "mm",
		Granularity: domain.GranularityDaily,
		FirstYear:   1889,
	}
	monthlyRain = domain.VariableDescriptor{
		Name:        "monthly_rain",
		DisplayName: "Monthly rainfall",
		Units:       "mm",
		Granularity: domain.GranularityMonthly,
		FirstYear:   1889,
	}
)

func testRegistry() *fakeRegistry {
	return &fakeRegistry{variables: map[string][]domain.VariableDescriptor{
		"daily_rain":   {dailyRain},
		"monthly_rain": {monthlyRain},
		"rain":         {dailyRain, monthlyRain},
	}}
}

// testTransform anchors an 8x8 test raster at (112, -10) with 0.05
// degree pixels, matching the archive's grid definition.
func testTransform() domain.Affine {
	return domain.Affine{A: 0.05, C: 112, E: -0.05, F: -10}
}

// encodeTestRaster builds an 8x8 float32 raster whose sample at
// (row, col) is row*1000+col, with nodata -32767.
func encodeTestRaster(t *testing.T) []byte {
	t.Helper()
	grid := domain.NewGrid(8, 8)
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			grid.Set(r, c, float64(r*1000+c), true)
		}
	}
	return encodeGrid(t, grid, domain.EPSGWGS84)
}

func encodeGrid(t *testing.T, grid *domain.Grid, epsg int) []byte {
	t.Helper()
	profile := domain.RasterProfile{
		Transform: testTransform(),
		EPSG:      epsg,
		Nodata:    -32767,
		HasNodata: true,
		DType:     domain.DTypeFloat32,
		Width:     grid.Cols,
		Height:    grid.Rows,
	}
	var buf bytes.Buffer
	if err := cog.Encode(&buf, grid, profile); err != nil {
		t.Fatalf("encode test raster: %v", err)
	}
	return buf.Bytes()
}

// dailyKey resolves the remote key for one daily_rain date, failing the
// test on resolver errors.
func dailyKey(t *testing.T, date time.Time) string {
	t.Helper()
	key, err := ObjectKey(dailyRain, date)
	if err != nil {
		t.Fatalf("ObjectKey: %v", err)
	}
	return key
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
