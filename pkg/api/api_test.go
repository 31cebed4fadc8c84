package api

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		D   Date  `json:"d"`
		End *Date `json:"end,omitempty"`
	}

	in := wrapper{D: NewDate(2024, time.February, 20)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"d":"2024-02-20"}` {
		t.Errorf("got %s", data)
	}

	var out wrapper
	if err := json.Unmarshal([]byte(`{"d":"2024-03-01","end":"2024-12-31"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D.String() != "2024-03-01" || out.End == nil || out.End.String() != "2024-12-31" {
		t.Errorf("unexpected decode: %+v", out)
	}
}

func TestDateOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 2024-01-01 05:00 at +10 is still 2023-12-31 in UTC.
	got := DateOf(time.Date(2024, time.January, 1, 5, 0, 0, 0, loc))
	if got.String() != "2023-12-31" {
		t.Errorf("DateOf = %s, want 2023-12-31", got)
	}
}

func TestRecurringRule_Validate(t *testing.T) {
	valid := RecurringRule{
		ID:          "r1",
		ProfileID:   "p1",
		AccountID:   "a1",
		Amount:      decimal.RequireFromString("12.50"),
		Frequency:   "monthly",
		NextRunDate: MustParseDate("2024-01-01"),
		IsActive:    true,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broken := valid
	broken.AccountID = ""
	broken.NextRunDate = Date{}
	err := broken.Validate()
	if !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected ErrMalformedRule, got %v", err)
	}
	if err.Error() != "malformed recurring rule: missing account_id, next_run_date" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	undecodable := valid
	undecodable.DecodeErr = errors.New(`amount "twelve"`)
	err = undecodable.Validate()
	if !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected ErrMalformedRule, got %v", err)
	}
	if err.Error() != `malformed recurring rule: amount "twelve"` {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestRecurringRule_Due(t *testing.T) {
	ref := MustParseDate("2024-03-10")
	end := MustParseDate("2024-03-09")
	endSame := MustParseDate("2024-03-10")

	tests := []struct {
		name string
		rule RecurringRule
		want bool
	}{
		{"due today", RecurringRule{IsActive: true, NextRunDate: ref}, true},
		{"overdue", RecurringRule{IsActive: true, NextRunDate: MustParseDate("2024-02-01")}, true},
		{"future", RecurringRule{IsActive: true, NextRunDate: MustParseDate("2024-03-11")}, false},
		{"inactive", RecurringRule{IsActive: false, NextRunDate: ref}, false},
		{"expired", RecurringRule{IsActive: true, NextRunDate: ref, EndDate: &end}, false},
		{"ends today", RecurringRule{IsActive: true, NextRunDate: ref, EndDate: &endSame}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Due(ref); got != tc.want {
				t.Errorf("Due = %v, want %v", got, tc.want)
			}
		})
	}
}
