package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gridflow/silogrid/internal/application"
	"github.com/gridflow/silogrid/internal/domain"
)

const dateLayout = "2006-01-02"

// SeriesParams represents the query parameters for a series request.
type SeriesParams struct {
	Variables []string
	Start     time.Time
	End       time.Time
	Lon       float64
	Lat       float64
	Overview  int
	Fill      bool
}

// handleHealth returns service health plus cache occupancy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"variables": len(s.registry.All()),
	}

	if counts, err := s.inventory.CountByVariable(r.Context()); err == nil {
		cached := 0
		for _, n := range counts {
			cached += n
		}
		resp["cached_rasters"] = cached
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleListVariables returns every variable the registry knows.
func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.registry.All()

	variables := make([]map[string]interface{}, len(descriptors))
	for i, v := range descriptors {
		variables[i] = map[string]interface{}{
			"name":         v.Name,
			"display_name": v.DisplayName,
			"units":        v.Units,
			"granularity":  string(v.Granularity),
			"first_year":   v.FirstYear,
		}
		if v.APICode != "" {
			variables[i]["api_code"] = v.APICode
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"variables": variables,
		"count":     len(variables),
	})
}

// handleSeries assembles point time series for the requested variables.
// Reads stream straight off the archive; the handler never writes to
// the cache.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseSeriesParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := application.SeriesOptions{
		Start:       params.Start,
		End:         params.End,
		Geometry:    domain.NewPoint(params.Lon, params.Lat),
		Mode:        application.ModeStream,
		Overview:    params.Overview,
		FillMissing: params.Fill,
	}

	result, err := s.assembler.Assemble(r.Context(), params.Variables, opts)
	if err != nil {
		s.handleSeriesError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"point":  map[string]float64{"lon": params.Lon, "lat": params.Lat},
		"start":  params.Start.Format(dateLayout),
		"end":    params.End.Format(dateLayout),
		"series": s.formatSeries(result),
	})
}

// parseSeriesParams parses query parameters from the request.
func (s *Server) parseSeriesParams(r *http.Request) (*SeriesParams, error) {
	q := r.URL.Query()
	params := &SeriesParams{}

	vars := q.Get("vars")
	if vars == "" {
		return nil, errors.New("vars parameter is required")
	}
	params.Variables = strings.Split(vars, ",")

	start, err := time.Parse(dateLayout, q.Get("start"))
	if err != nil {
		return nil, errors.New("invalid start parameter, expected YYYY-MM-DD")
	}
	params.Start = start

	end, err := time.Parse(dateLayout, q.Get("end"))
	if err != nil {
		return nil, errors.New("invalid end parameter, expected YYYY-MM-DD")
	}
	params.End = end

	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return nil, errors.New("invalid lon parameter")
	}
	params.Lon = lon

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return nil, errors.New("invalid lat parameter")
	}
	params.Lat = lat

	if ov := q.Get("overview"); ov != "" {
		v, err := strconv.Atoi(ov)
		if err != nil || v < 0 {
			return nil, errors.New("invalid overview parameter")
		}
		params.Overview = v
	}

	if fill := q.Get("fill"); fill != "" {
		v, err := strconv.ParseBool(fill)
		if err != nil {
			return nil, errors.New("invalid fill parameter")
		}
		params.Fill = v
	}

	return params, nil
}

// formatSeries formats assembled series for JSON output. Masked cells
// are emitted as nulls.
func (s *Server) formatSeries(result map[string]*domain.Series) map[string]interface{} {
	out := make(map[string]interface{}, len(result))
	for name, series := range result {
		entry := map[string]interface{}{
			"dates":  s.formatDates(name, series.Dates),
			"shape":  [3]int{series.Steps(), series.Rows, series.Cols},
			"values": maskedValues(series),
		}
		if descriptors, err := s.registry.Lookup(name); err == nil && len(descriptors) == 1 {
			entry["units"] = descriptors[0].Units
		}
		out[name] = entry
	}
	return out
}

// formatDates renders the date axis at the variable's granularity.
func (s *Server) formatDates(name string, dates []time.Time) []string {
	layout := dateLayout
	if descriptors, err := s.registry.Lookup(name); err == nil && len(descriptors) == 1 &&
		descriptors[0].Granularity == domain.GranularityMonthly {
		layout = "2006-01"
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(layout)
	}
	return out
}

func maskedValues(series *domain.Series) []*float64 {
	values := make([]*float64, len(series.Values))
	for i := range series.Values {
		if series.Mask[i] {
			continue
		}
		v := series.Values[i]
		values[i] = &v
	}
	return values
}

// handleSeriesError maps assembly errors to HTTP statuses.
func (s *Server) handleSeriesError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	if errors.Is(err, domain.ErrUnknownVariable) {
		s.writeError(w, http.StatusBadRequest, "unknown variable")
		return
	}

	if errors.Is(err, domain.ErrOutOfBounds) {
		s.writeError(w, http.StatusBadRequest, "coordinates outside the grid extent")
		return
	}

	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) {
		s.logger.Error("archive unreachable", "key", transportErr.Key, "error", err)
		s.writeError(w, http.StatusBadGateway, "archive unreachable")
		return
	}

	s.logger.Error("series assembly failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Series assembly failed")
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
