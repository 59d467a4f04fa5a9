package main

import (
	"testing"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
)

func TestParseAt(t *testing.T) {
	bucharest, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", now},
		{"now", now},
		{"2024-03-10T20:00:00Z", time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)},
		{"2024-03-10 22:00", time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)},
		{"2024-03-10", time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseAt(tt.in, bucharest, now)
		if err != nil {
			t.Errorf("parseAt(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseAt("next tuesday", bucharest, now); err == nil {
		t.Error("expected error for free-form time")
	}
}

func TestLabels(t *testing.T) {
	s := engine.NewScene("Lake", engine.LocationRomania, engine.Location{County: "Alba", Locality: "Blaj"})
	s.TimeStart, s.TimeEnd, s.TimeEndNextDay = "21:00", "03:00", true

	if got := windowLabel(s); got != "21:00-03:00 (+1 day)" {
		t.Errorf("windowLabel = %q", got)
	}
	if got := locationLabel(s.Location); got != "Blaj, Alba" {
		t.Errorf("locationLabel = %q", got)
	}
	if got := locationLabel(engine.Location{Latitude: 46.07, Longitude: 23.58}); got != "46.07, 23.58" {
		t.Errorf("locationLabel = %q", got)
	}
	if got := truncate("Cetatea Alba Carolina", 8); got != "Cetatea…" {
		t.Errorf("truncate = %q", got)
	}
}
