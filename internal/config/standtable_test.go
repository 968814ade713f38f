package config

import (
	"strings"
	"testing"
)

func TestLoadStandTableParsesRequiredAndOptionalColumns(t *testing.T) {
	csv := "id,unit,agent,stp,speciesComposition,thinningIntensity,u,mai,harvestMode\n" +
		"1,north,evenAged,default,spruce-dominant,low,high,5.5,clearcut\n"

	rows, err := LoadStandTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("LoadStandTable() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	got := rows[0]
	want := StandRow{
		ID: 1, Unit: "north", AgentType: "evenAged", Agent: "evenAged", STP: "default",
		SpeciesComposition: "spruce-dominant", ThinningIntensity: "low", U: "high",
		MAI: 5.5, HarvestMode: "clearcut",
	}
	if got != want {
		t.Fatalf("row = %+v, want %+v", got, want)
	}
}

func TestLoadStandTableHeaderIsCaseInsensitive(t *testing.T) {
	csv := "ID,UNIT,AGENTTYPE,STP\n1,north,evenAged,default\n"

	rows, err := LoadStandTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("LoadStandTable() error = %v", err)
	}
	if len(rows) != 1 || rows[0].AgentType != "evenAged" {
		t.Fatalf("rows = %+v, want one row with AgentType evenAged", rows)
	}
}

func TestLoadStandTableAgentDefaultsFromAgentType(t *testing.T) {
	csv := "id,unit,agentType,stp\n1,north,evenAged,default\n"

	rows, err := LoadStandTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("LoadStandTable() error = %v", err)
	}
	if rows[0].Agent != "evenAged" {
		t.Fatalf("Agent = %q, want it to default to AgentType %q", rows[0].Agent, "evenAged")
	}
}

func TestLoadStandTableAgentTypeDefaultsFromAgent(t *testing.T) {
	csv := "id,unit,agent,stp\n1,north,ranger-1,default\n"

	rows, err := LoadStandTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("LoadStandTable() error = %v", err)
	}
	if rows[0].AgentType != "ranger-1" {
		t.Fatalf("AgentType = %q, want it to default to Agent %q", rows[0].AgentType, "ranger-1")
	}
}

func TestLoadStandTableMissingRequiredColumnFails(t *testing.T) {
	csv := "id,agent,stp\n1,evenAged,default\n"

	if _, err := LoadStandTable(strings.NewReader(csv)); err == nil {
		t.Fatal("expected LoadStandTable to fail when the unit column is missing")
	}
}

func TestLoadStandTableMissingAgentAndAgentTypeFails(t *testing.T) {
	csv := "id,unit,stp\n1,north,default\n"

	if _, err := LoadStandTable(strings.NewReader(csv)); err == nil {
		t.Fatal("expected LoadStandTable to fail when neither agent nor agentType is present")
	}
}

func TestLoadStandTableInvalidIDFails(t *testing.T) {
	csv := "id,unit,agent,stp\nnotanumber,north,evenAged,default\n"

	if _, err := LoadStandTable(strings.NewReader(csv)); err == nil {
		t.Fatal("expected LoadStandTable to fail on a non-numeric id")
	}
}
