package agents

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sample = `
agents:
  - id: tony-nasim
    name: Tony Nasim
    phone: "+13105550100"
    email: tony@example.com
    available: true
    business_hours: {start: "09:00", end: "18:00", timezone: America/Los_Angeles}
  - id: backup
    name: Backup Desk
    phone: "+13105550199"
`

func TestLoadFromReader(t *testing.T) {
	d, err := LoadFromReader(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, err := d.Get("tony-nasim")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Email != "tony@example.com" || a.BusinessHours.Timezone != "America/Los_Angeles" {
		t.Fatalf("unexpected agent: %+v", a)
	}
	if def, ok := d.Default(); !ok || def.ID != "tony-nasim" {
		t.Fatalf("unexpected default: %+v", def)
	}
	if got := d.List(); len(got) != 2 || got[0].ID != "backup" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if _, err := d.Get("nobody"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("agents:\n  - id: a\n    phone: '1'\n  - id: a\n    phone: '2'\n  - name: nobody\n"))
	if !errors.Is(err, ErrInvalidAgent) {
		t.Fatalf("expected ErrInvalidAgent, got %v", err)
	}
	if _, err := LoadFromReader(strings.NewReader("agents:\n  - id: a\n    pager: '1'\n")); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestOpenAt(t *testing.T) {
	a := Agent{BusinessHours: BusinessHours{Start: "09:00", End: "18:00", Timezone: "UTC"}}
	wed := time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC)
	if !a.OpenAt(wed) {
		t.Fatal("expected open wednesday 10:00")
	}
	if a.OpenAt(wed.Add(9 * time.Hour)) {
		t.Fatal("expected closed wednesday 19:00")
	}
	if a.OpenAt(time.Date(2024, time.March, 16, 10, 0, 0, 0, time.UTC)) {
		t.Fatal("expected closed saturday")
	}
	if !(Agent{}).OpenAt(wed) {
		t.Fatal("agents without hours are always open")
	}
}
