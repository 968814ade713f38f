package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// StandRow is one row of the per-stand assignment table (spec §6
// "Configuration input"): id, unit, agent|agentType, stp are required;
// the rest carry documented defaults applied by the engine at load time.
// No CSV library appears anywhere in the retrieval pack, so this one
// boundary concern is stdlib `encoding/csv` by necessity (see
// SPEC_FULL.md's AMBIENT STACK / DESIGN.md).
type StandRow struct {
	ID                 int
	Unit               string
	AgentType          string
	Agent              string // optional: defaults to AgentType name
	STP                string
	SpeciesComposition string
	ThinningIntensity  string // optional: "low"|"medium"|"high", default "medium"
	U                  string // optional: rotation-length class, default "medium"
	MAI                float64
	HarvestMode        string
}

var standTableColumns = []string{"id", "unit", "agent", "agenttype", "stp", "speciescomposition", "thinningintensity", "u", "mai", "harvestmode"}

// LoadStandTable reads the per-stand assignment CSV (spec §6). The first
// four columns (id, unit, agent|agenttype, stp) are required; all others
// are optional and case-insensitive in the header.
func LoadStandTable(r io.Reader) ([]StandRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("stand table: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "unit", "stp"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("stand table: missing required column %q", required)
		}
	}
	if _, ok := col["agent"]; !ok {
		if _, ok := col["agenttype"]; !ok {
			return nil, fmt.Errorf("stand table: missing required column %q or %q", "agent", "agentType")
		}
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []StandRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stand table: %w", err)
		}

		id, err := strconv.Atoi(get(rec, "id"))
		if err != nil {
			return nil, fmt.Errorf("stand table: invalid id %q: %w", get(rec, "id"), err)
		}
		var mai float64
		if v := get(rec, "mai"); v != "" {
			mai, err = strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("stand table: stand %d: invalid mai %q: %w", id, v, err)
			}
		}

		agentType := get(rec, "agenttype")
		agentName := get(rec, "agent")
		if agentType == "" {
			agentType = agentName
		}
		if agentName == "" {
			agentName = agentType
		}

		rows = append(rows, StandRow{
			ID:                 id,
			Unit:               get(rec, "unit"),
			AgentType:          agentType,
			Agent:              agentName,
			STP:                get(rec, "stp"),
			SpeciesComposition: get(rec, "speciescomposition"),
			ThinningIntensity:  get(rec, "thinningintensity"),
			U:                  get(rec, "u"),
			MAI:                mai,
			HarvestMode:        get(rec, "harvestmode"),
		})
	}
	return rows, nil
}
