// Package geo loads the static postal-code reference table and answers
// district, city and coordinate lookups for Swedish zip codes.
//
// The table uses the GeoNames postal-code dump format: one tab-separated
// record per code with country, postal code, place name, three levels of
// admin areas, latitude and longitude. The index is built once at process
// start and is read-only afterwards.
package geo

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LatLong is a WGS84 coordinate pair.
type LatLong struct {
	Lat float64
	Lon float64
}

type entry struct {
	city     string
	district string
	pos      LatLong
}

// Index maps normalized postal codes to place data. Immutable after Load.
type Index struct {
	entries map[string]entry
}

// Load reads a GeoNames-format postal table from path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open zip data: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse builds an index from GeoNames-format TSV data.
// Malformed lines are skipped; a table with zero usable rows is an error.
func Parse(r io.Reader) (*Index, error) {
	idx := &Index{entries: make(map[string]entry)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 11 {
			continue
		}
		zip := NormalizeZip(fields[1])
		if zip == "" {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(fields[9]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(fields[10]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		district := strings.TrimSpace(fields[5])
		if district == "" {
			district = strings.TrimSpace(fields[2])
		}
		idx.entries[zip] = entry{
			city:     strings.TrimSpace(fields[2]),
			district: district,
			pos:      LatLong{Lat: lat, Lon: lon},
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("geo: read zip data: %w", err)
	}
	if len(idx.entries) == 0 {
		return nil, fmt.Errorf("geo: zip data contained no usable rows")
	}
	return idx, nil
}

// NormalizeZip strips interior whitespace so "170 70" and "17070" match.
func NormalizeZip(zip string) string {
	return strings.ReplaceAll(strings.TrimSpace(zip), " ", "")
}

// District returns the coarse geographic bucket (kommun) for a zip code.
func (x *Index) District(zip string) (string, bool) {
	e, ok := x.entries[NormalizeZip(zip)]
	if !ok {
		return "", false
	}
	return e.district, true
}

// City returns the place name for a zip code, used in the voice
// confirmation step.
func (x *Index) City(zip string) (string, bool) {
	e, ok := x.entries[NormalizeZip(zip)]
	if !ok {
		return "", false
	}
	return e.city, true
}

// LatLong returns the coordinates for a zip code.
func (x *Index) LatLong(zip string) (LatLong, bool) {
	e, ok := x.entries[NormalizeZip(zip)]
	if !ok {
		return LatLong{}, false
	}
	return e.pos, true
}

// Len reports how many postal codes are indexed.
func (x *Index) Len() int { return len(x.entries) }

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between two coordinates in km.
func Distance(a, b LatLong) float64 {
	la1 := a.Lat * math.Pi / 180
	la2 := b.Lat * math.Pi / 180
	dLa := (b.Lat - a.Lat) * math.Pi / 180
	dLo := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLa/2)*math.Sin(dLa/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLo/2)*math.Sin(dLo/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
