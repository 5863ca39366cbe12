package domain

import (
	"testing"
	"time"
)

func TestWorkloadRolledOver(t *testing.T) {
	base := Workload{
		ActiveLeads:           4,
		LeadsAssignedToday:    3,
		LeadsAssignedThisWeek: 9,
		PipelineValue:         12000,
	}
	// A Wednesday, so same-week day shifts stay inside the ISO week.
	wed := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lastAssigned time.Time
		now          time.Time
		wantToday    int
		wantWeek     int
	}{
		{"same day keeps both", wed, wed.Add(6 * time.Hour), 3, 9},
		{"next day keeps the week", wed, wed.AddDate(0, 0, 1), 0, 9},
		{"next week zeroes both", wed, wed.AddDate(0, 0, 7), 0, 0},
		{"monday after a sunday starts a new week", wed.AddDate(0, 0, 4), wed.AddDate(0, 0, 5), 0, 0},
		{"year boundary inside one iso week", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 0, 9},
		{"never assigned keeps counters", time.Time{}, wed, 3, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := base.RolledOver(tt.lastAssigned, tt.now)
			if got.LeadsAssignedToday != tt.wantToday {
				t.Errorf("LeadsAssignedToday = %d, want %d", got.LeadsAssignedToday, tt.wantToday)
			}
			if got.LeadsAssignedThisWeek != tt.wantWeek {
				t.Errorf("LeadsAssignedThisWeek = %d, want %d", got.LeadsAssignedThisWeek, tt.wantWeek)
			}
			if got.ActiveLeads != base.ActiveLeads || got.PipelineValue != base.PipelineValue {
				t.Errorf("rollover must not touch active leads or pipeline value: %+v", got)
			}
		})
	}
}
