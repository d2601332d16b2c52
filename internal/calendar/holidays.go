package calendar

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed holidays_kr.yaml
var defaultHolidays []byte

// Table is a fixed holiday table keyed by calendar year.
// A year present in the table is considered fully specified.
type Table map[int]map[Date]string

// DefaultTable returns the built-in Korean public holiday table.
func DefaultTable() Table {
	t, err := ParseTable(defaultHolidays)
	if err != nil {
		panic(fmt.Sprintf("embedded holiday table is invalid: %v", err))
	}
	return t
}

// LoadTable reads a holiday table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday file %s: %w", path, err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse holiday file %s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes a YAML document of the form
//
//	2025:
//	  "2025-01-01": New Year's Day
func ParseTable(data []byte) (Table, error) {
	var raw map[int]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	t := make(Table, len(raw))
	for year, days := range raw {
		entries := make(map[Date]string, len(days))
		for s, name := range days {
			d, err := ParseDate(s)
			if err != nil {
				return nil, err
			}
			if d.Year != year {
				return nil, fmt.Errorf("holiday %s listed under year %d", s, year)
			}
			entries[d] = name
		}
		t[year] = entries
	}
	return t, nil
}

// Years returns the covered years in ascending order.
func (t Table) Years() []int {
	years := make([]int, 0, len(t))
	for y := range t {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
