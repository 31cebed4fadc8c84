package schedule

import (
	"testing"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

func TestNextString(t *testing.T) {
	tests := []struct {
		name      string
		date      string
		frequency string
		want      string
	}{
		{name: "daily", date: "2024-05-10", frequency: "daily", want: "2024-05-11"},
		{name: "daily across year", date: "2023-12-31", frequency: "daily", want: "2024-01-01"},
		{name: "weekly", date: "2024-05-10", frequency: "weekly", want: "2024-05-17"},
		{name: "biweekly", date: "2024-05-10", frequency: "biweekly", want: "2024-05-24"},
		{name: "monthly", date: "2024-05-10", frequency: "monthly", want: "2024-06-10"},
		{name: "monthly rolls over month end", date: "2024-01-31", frequency: "monthly", want: "2024-03-02"},
		{name: "monthly rolls over non leap", date: "2023-01-31", frequency: "monthly", want: "2023-03-03"},
		{name: "monthly december", date: "2024-12-15", frequency: "monthly", want: "2025-01-15"},
		{name: "yearly", date: "2024-05-10", frequency: "yearly", want: "2025-05-10"},
		{name: "annually", date: "2024-05-10", frequency: "annually", want: "2025-05-10"},
		{name: "yearly from leap day", date: "2024-02-29", frequency: "yearly", want: "2025-03-01"},
		{name: "case and whitespace", date: "2024-05-10", frequency: "  WeEkLy ", want: "2024-05-17"},
		{name: "unknown falls back to monthly", date: "2024-05-10", frequency: "fortnightly", want: "2024-06-10"},
		{name: "empty falls back to monthly", date: "2024-05-10", frequency: "", want: "2024-06-10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextString(tc.date, tc.frequency)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("NextString(%q, %q) = %q, want %q", tc.date, tc.frequency, got, tc.want)
			}
		})
	}
}

func TestNextString_InvalidDate(t *testing.T) {
	if _, err := NextString("2024-13-01", "daily"); err == nil {
		t.Error("expected error for invalid date, got nil")
	}
}

func TestNext_StrictlyIncreasing(t *testing.T) {
	frequencies := []string{"daily", "weekly", "biweekly", "monthly", "yearly", "annually", "fortnightly", ""}
	start := api.MustParseDate("2023-01-01")

	for _, f := range frequencies {
		for i := 0; i < 800; i++ {
			d := start.AddDays(i)
			next, _ := Next(d, f)
			if !next.After(d) {
				t.Fatalf("Next(%s, %q) = %s, not after input", d, f, next)
			}
		}
	}
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		raw    string
		want   Frequency
		wantOK bool
	}{
		{"daily", Daily, true},
		{"Biweekly", Biweekly, true},
		{"ANNUALLY", Yearly, true},
		{" monthly\t", Monthly, true},
		{"quarterly", Monthly, false},
	}

	for _, tc := range tests {
		got, ok := ParseFrequency(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ParseFrequency(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		raw  string
		want Frequency
	}{
		{"wekly", Weekly},
		{"Montly", Monthly},
		{"yearley", Yearly},
		{"fortnightly", ""},
	}

	for _, tc := range tests {
		if got := Suggest(tc.raw); got != tc.want {
			t.Errorf("Suggest(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
