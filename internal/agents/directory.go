// Package agents is the loan officer directory. It decides who a call is
// dialed to and who receives the internal lead alert.
package agents

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownAgent = errors.New("agents: unknown agent")
	ErrInvalidAgent = errors.New("agents: invalid agent")
)

type BusinessHours struct {
	Start    string `yaml:"start" json:"start"` // "09:00"
	End      string `yaml:"end" json:"end"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type Agent struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Phone         string        `yaml:"phone" json:"phone"`
	Email         string        `yaml:"email" json:"email"`
	Location      string        `yaml:"location" json:"location,omitempty"`
	Available     bool          `yaml:"available" json:"available"`
	Weight        int           `yaml:"weight" json:"weight,omitempty"` // shared-line routing bias
	BusinessHours BusinessHours `yaml:"business_hours" json:"business_hours"`
}

// OpenAt reports whether t falls inside the agent's business hours on a
// weekday. Agents without configured hours are always open.
func (a Agent) OpenAt(t time.Time) bool {
	bh := a.BusinessHours
	if bh.Start == "" || bh.End == "" {
		return true
	}
	loc := time.UTC
	if bh.Timezone != "" {
		if l, err := time.LoadLocation(bh.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	start, err1 := time.Parse("15:04", bh.Start)
	end, err2 := time.Parse("15:04", bh.End)
	if err1 != nil || err2 != nil {
		return true
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= start.Hour()*60+start.Minute() && minutes < end.Hour()*60+end.Minute()
}

type file struct {
	Agents []Agent `yaml:"agents"`
}

// Directory is read-only after construction.
type Directory struct {
	byID  map[string]Agent
	order []string
}

func NewDirectory(list ...Agent) (*Directory, error) {
	d := &Directory{byID: make(map[string]Agent, len(list))}
	var errs []error
	for _, a := range list {
		a.ID = strings.TrimSpace(a.ID)
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("%w: missing id", ErrInvalidAgent))
			continue
		case a.Phone == "":
			errs = append(errs, fmt.Errorf("%w: %s has no phone", ErrInvalidAgent, a.ID))
			continue
		}
		if _, dup := d.byID[a.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %s", ErrInvalidAgent, a.ID))
			continue
		}
		d.byID[a.ID] = a
		d.order = append(d.order, a.ID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return d, nil
}

// Load reads a YAML file of the form:
//
//	agents:
//	  - id: tony-nasim
//	    name: Tony Nasim
//	    phone: "+13105550100"
//	    email: tony@example.com
//	    available: true
//	    business_hours: {start: "09:00", end: "18:00", timezone: America/Los_Angeles}
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agents: open %q: %w", path, err)
	}
	defer f.Close()
	d, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agents: parse %q: %w", path, err)
	}
	return d, nil
}

func LoadFromReader(r io.Reader) (*Directory, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("agents: decode yaml: %w", err)
	}
	return NewDirectory(doc.Agents...)
}

func (d *Directory) Get(id string) (Agent, error) {
	if d == nil {
		return Agent{}, ErrUnknownAgent
	}
	a, ok := d.byID[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// List returns agents sorted by id.
func (d *Directory) List() []Agent {
	if d == nil {
		return nil
	}
	ids := append([]string(nil), d.order...)
	sort.Strings(ids)
	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.byID[id])
	}
	return out
}

// Default is the first agent in file order.
func (d *Directory) Default() (Agent, bool) {
	if d == nil || len(d.order) == 0 {
		return Agent{}, false
	}
	return d.byID[d.order[0]], true
}
