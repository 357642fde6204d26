// Package application contains the application services.
package application

import (
	"fmt"
	"time"

	"github.com/gridflow/silogrid/internal/domain"
)

// ObjectKey returns the archive key of one variable's raster for a date:
// {granularity}/{variable}/{year}/{compact}.{variable}.tif. Pure string
// construction; the store prepends its own base address.
func ObjectKey(v domain.VariableDescriptor, date time.Time) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%d/%s.%s.tif",
		v.Granularity, v.Name, date.Year(), domain.CompactDate(date, v.Granularity), v.Name), nil
}

// CachePath returns the cache-relative path of a persisted raster:
// {variable}/{year}/{compact}.{variable}.tif. The remote layout one
// level deeper by year, without the granularity segment.
func CachePath(v domain.VariableDescriptor, date time.Time) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d/%s.%s.tif",
		v.Name, date.Year(), domain.CompactDate(date, v.Granularity), v.Name), nil
}
