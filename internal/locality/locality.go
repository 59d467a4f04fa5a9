// Package locality loads the county/locality coordinate table.
package locality

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Column headers of the locality CSV
const (
	ColumnCounty    = "Județ"
	ColumnLocality  = "Localitate"
	ColumnAdmin     = "administrare"
	ColumnLatitude  = "Latitudine N"
	ColumnLongitude = "Longitudine E"
)

var ErrNotFound = errors.New("locality not found")

// Place is one row of the table
type Place struct {
	County         string  `json:"county"`
	Name           string  `json:"name"`
	Administration string  `json:"administration"` // lower-cased, e.g. "municipiu", "comuna x"
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lon"`
}

type county struct {
	name   string
	places map[string]Place // keyed by normalized locality name
}

// Table is a county -> locality mapping. Lookups ignore case and
// surrounding whitespace; display names keep their original spelling.
type Table struct {
	counties map[string]*county
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsCommune reports whether an administration field marks a commune subdivision
func IsCommune(administration string) bool {
	return strings.HasPrefix(normalize(administration), "comuna")
}

// LoadFile reads the table from a CSV file
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening localities: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses UTF-8 CSV, tolerating a byte-order mark. Rows without county or
// locality are skipped and unparsable coordinates become 0.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, c := range []string{ColumnCounty, ColumnLocality, ColumnAdmin, ColumnLatitude, ColumnLongitude} {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	field := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	t := &Table{counties: make(map[string]*county)}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading localities: %w", err)
		}

		countyName := field(row, ColumnCounty)
		placeName := field(row, ColumnLocality)
		if countyName == "" || placeName == "" {
			continue
		}

		p := Place{
			County:         countyName,
			Name:           placeName,
			Administration: strings.ToLower(field(row, ColumnAdmin)),
			Latitude:       parseCoordinate(field(row, ColumnLatitude)),
			Longitude:      parseCoordinate(field(row, ColumnLongitude)),
		}

		key := normalize(countyName)
		c, ok := t.counties[key]
		if !ok {
			c = &county{name: countyName, places: make(map[string]Place)}
			t.counties[key] = c
		}
		c.places[normalize(placeName)] = p
	}
	return t, nil
}

func parseCoordinate(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// Counties returns county display names, sorted
func (t *Table) Counties() []string {
	names := make([]string, 0, len(t.counties))
	for _, c := range t.counties {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Localities returns the county's locality names, sorted. Communes are
// omitted when hideCommunes is set.
func (t *Table) Localities(countyName string, hideCommunes bool) []string {
	c, ok := t.counties[normalize(countyName)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(c.places))
	for _, p := range c.places {
		if hideCommunes && IsCommune(p.Administration) {
			continue
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns one place
func (t *Table) Lookup(countyName, placeName string) (Place, error) {
	if c, ok := t.counties[normalize(countyName)]; ok {
		if p, ok := c.places[normalize(placeName)]; ok {
			return p, nil
		}
	}
	return Place{}, fmt.Errorf("%w: %s, %s", ErrNotFound, placeName, countyName)
}

// Coordinates returns a place's latitude and longitude
func (t *Table) Coordinates(countyName, placeName string) (lat, lon float64, err error) {
	p, err := t.Lookup(countyName, placeName)
	if err != nil {
		return 0, 0, err
	}
	return p.Latitude, p.Longitude, nil
}

// Len returns the number of places
func (t *Table) Len() int {
	n := 0
	for _, c := range t.counties {
		n += len(c.places)
	}
	return n
}
