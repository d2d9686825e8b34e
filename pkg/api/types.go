// Package api defines the wire types shared by the beacon SDK, the uploader,
// and the collector server.
package api

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DayFormat is the layout for aggregation days. Events are bucketed by
// calendar day in the reporting machine's local time.
const DayFormat = "2006-01-02"

// UsageRecord is one aggregated counter row: how many times a component
// reported an event on a given day. It intentionally carries no user or
// machine identifier.
type UsageRecord struct {
	Component string `json:"component"`
	Event     string `json:"event"`
	Day       string `json:"day"`
	Times     int64  `json:"times"`
}

var dayRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks that the record can be ingested by a collector.
func (r *UsageRecord) Validate() error {
	if r.Component == "" {
		return errors.New("component cannot be empty")
	}
	if r.Event == "" {
		return errors.New("event cannot be empty")
	}
	if !dayRegex.MatchString(r.Day) {
		return fmt.Errorf("invalid day %q: expected YYYY-MM-DD", r.Day)
	}
	if _, err := time.Parse(DayFormat, r.Day); err != nil {
		return fmt.Errorf("invalid day %q: %w", r.Day, err)
	}
	if r.Times <= 0 {
		return fmt.Errorf("invalid times %d: must be positive", r.Times)
	}
	return nil
}

// Batch is the upload envelope POSTed to the collector. InstallUUID is an
// anonymous random identifier used only to de-duplicate installs in rough
// adoption metrics; it is never stored alongside the records.
type Batch struct {
	Records     []UsageRecord `json:"records"`
	Source      string        `json:"source"`
	InstallUUID string        `json:"install_uuid,omitempty"`
	Version     string        `json:"version,omitempty"`
}

// Validate checks the envelope and every record in it.
func (b *Batch) Validate() error {
	if len(b.Records) == 0 {
		return errors.New("batch contains no records")
	}
	for i := range b.Records {
		if err := b.Records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// DailyCount is one day's event total in a stats report.
type DailyCount struct {
	Day   string `json:"day"`
	Times int64  `json:"times"`
}

// NamedCount is a per-component, per-event, or per-city total.
type NamedCount struct {
	Name  string `json:"name"`
	Times int64  `json:"times"`
}

// StatsReport is the aggregate view served by the collector.
type StatsReport struct {
	TotalEvents      int64        `json:"total_events"`
	UniqueComponents int64        `json:"unique_components"`
	ByDay            []DailyCount `json:"by_day"`
	ByComponent      []NamedCount `json:"by_component"`
	ByEvent          []NamedCount `json:"by_event"`
	ByCity           []NamedCount `json:"by_city"`
}

// IngestResponse acknowledges an accepted batch.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}
