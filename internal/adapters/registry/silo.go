// Package registry provides the built-in SILO variable registry.
package registry

import (
	"fmt"
	"sort"

	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// Silo is the built-in registry of SILO climate variables. It satisfies
// the VariableRegistry port; tests substitute fakes behind the same port.
type Silo struct {
	byName  map[string]domain.VariableDescriptor
	byCode  map[string]domain.VariableDescriptor
	presets map[string][]string
}

// descriptor builds a daily descriptor with the default first year.
func descriptor(code, name, display, units string) domain.VariableDescriptor {
	return domain.VariableDescriptor{
		Name:        name,
		APICode:     code,
		DisplayName: display,
		Units:       units,
		Granularity: domain.GranularityDaily,
		FirstYear:   1889,
	}
}

// NewSilo creates the registry with the full SILO variable table.
func NewSilo() *Silo {
	vars := []domain.VariableDescriptor{
		descriptor("R", "daily_rain", "Daily rainfall", "mm"),
		{
			Name:        "monthly_rain",
			DisplayName: "Monthly rainfall",
			Units:       "mm",
			Granularity: domain.GranularityMonthly,
			FirstYear:   1889,
		},
		descriptor("X", "max_temp", "Maximum temperature", "degC"),
		descriptor("N", "min_temp", "Minimum temperature", "degC"),
		descriptor("V", "vp", "Vapour pressure", "hPa"),
		descriptor("D", "vp_deficit", "Vapour pressure deficit", "hPa"),
		descriptor("H", "rh_tmax", "Relative humidity at time of maximum temperature", "%"),
		descriptor("G", "rh_tmin", "Relative humidity at time of minimum temperature", "%"),
		descriptor("S", "evap_syn", "Synthetic estimate evaporation", "mm"),
		descriptor("C", "evap_comb", "Combination evaporation", "mm"),
		descriptor("L", "evap_morton_lake", "Morton's shallow lake evaporation", "mm"),
		descriptor("J", "radiation", "Solar exposure", "MJ/m2"),
		descriptor("F", "et_short_crop", "FAO56 short crop evapotranspiration", "mm"),
		descriptor("T", "et_tall_crop", "ASCE tall crop evapotranspiration", "mm"),
		descriptor("A", "et_morton_actual", "Morton's areal actual evapotranspiration", "mm"),
		descriptor("P", "et_morton_potential", "Morton's point potential evapotranspiration", "mm"),
		descriptor("W", "et_morton_wet", "Morton's wet-environment evapotranspiration", "mm"),
	}

	// Archives that start later than the 1889 baseline.
	mslp := descriptor("M", "mslp", "Mean sea level pressure", "hPa")
	mslp.FirstYear = 1957
	pan := descriptor("E", "evap_pan", "Class A pan evaporation", "mm")
	pan.FirstYear = 1970
	vars = append(vars, mslp, pan)

	r := &Silo{
		byName: make(map[string]domain.VariableDescriptor, len(vars)),
		byCode: make(map[string]domain.VariableDescriptor, len(vars)),
		presets: map[string][]string{
			"daily":       {"daily_rain", "max_temp", "min_temp", "evap_syn"},
			"monthly":     {"monthly_rain"},
			"temperature": {"max_temp", "min_temp"},
			"evaporation": {"evap_pan", "evap_syn", "evap_comb"},
			"radiation":   {"radiation"},
			"humidity":    {"vp", "vp_deficit", "rh_tmax", "rh_tmin"},
		},
	}
	for _, v := range vars {
		r.byName[v.Name] = v
		if v.APICode != "" {
			r.byCode[v.APICode] = v
		}
	}
	return r
}

// Lookup expands a canonical name, single-letter API code or preset into
// descriptors.
func (r *Silo) Lookup(nameOrPreset string) ([]domain.VariableDescriptor, error) {
	if names, ok := r.presets[nameOrPreset]; ok {
		out := make([]domain.VariableDescriptor, 0, len(names))
		for _, n := range names {
			out = append(out, r.byName[n])
		}
		return out, nil
	}
	if v, ok := r.byName[nameOrPreset]; ok {
		return []domain.VariableDescriptor{v}, nil
	}
	if v, ok := r.byCode[nameOrPreset]; ok {
		return []domain.VariableDescriptor{v}, nil
	}
	return nil, fmt.Errorf("%q: %w", nameOrPreset, domain.ErrUnknownVariable)
}

// All returns every known descriptor sorted by canonical name.
func (r *Silo) All() []domain.VariableDescriptor {
	out := make([]domain.VariableDescriptor, 0, len(r.byName))
	for _, v := range r.byName {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Presets returns the preset names the registry understands.
func (r *Silo) Presets() []string {
	out := make([]string, 0, len(r.presets))
	for p := range r.presets {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var _ output.VariableRegistry = (*Silo)(nil)
