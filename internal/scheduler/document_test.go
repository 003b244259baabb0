package scheduler

import (
	"testing"
	"time"
)

const sampleDoc = `
| Job          | Skill         | Schedule                     | Channel       | Enabled |
|--------------|---------------|-------------------------------|---------------|---------|
| morning-brief | daily-brief  | 0 7 * * *                     | chan-1        | true    |
| hydration    | reminder-ping | every 2h from 09:00 to 21:00  | chan-2 !quiet | true    |
| disabled-job | noop          | 09:00                         | chan-3        | false   |
`

func TestParseDocument_Basic(t *testing.T) {
	jobs, warnings, err := ParseDocument(sampleDoc, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	byName := map[string]*ScheduledJob{}
	for _, j := range jobs {
		byName[j.Name] = j
	}

	brief := byName["morning-brief"]
	if brief == nil || brief.SkillName != "daily-brief" || !brief.Enabled {
		t.Fatalf("unexpected morning-brief row: %+v", brief)
	}

	hydration := byName["hydration"]
	if hydration == nil || !hydration.ignoreQuiet {
		t.Fatalf("expected hydration job to carry !quiet flag: %+v", hydration)
	}

	disabled := byName["disabled-job"]
	if disabled == nil || disabled.Enabled {
		t.Fatalf("expected disabled-job to be disabled: %+v", disabled)
	}
}

func TestParseDocument_DeduplicatesIdenticalRows(t *testing.T) {
	doc := `
| Job | Skill | Schedule   | Channel | Enabled |
|-----|-------|------------|---------|---------|
| a   | s1    | 0 7 * * *  | chan-1  | true    |
| b   | s1    | 0 7 * * *  | chan-1  | true    |
`
	jobs, warnings, err := ParseDocument(doc, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected de-duplication to (skill, schedule, channel) identity, got %d jobs", len(jobs))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one duplicate warning, got %v", warnings)
	}
}

func TestParseDocument_MissingColumn(t *testing.T) {
	doc := "| Job | Skill |\n|---|---|\n| a | b |\n"
	if _, _, err := ParseDocument(doc, time.UTC); err == nil {
		t.Fatal("expected error for missing required column")
	}
}

func TestParseDocument_RejectsUnrecognisedChannelFlag(t *testing.T) {
	doc := "| Job | Skill | Schedule | Channel | Enabled |\n|---|---|---|---|---|\n| a | s | 09:00 | chan-1 !bogus | true |\n"
	if _, _, err := ParseDocument(doc, time.UTC); err == nil {
		t.Fatal("expected error for unrecognised channel flag")
	}
}

func TestParseChannelCell(t *testing.T) {
	id, quiet, sms, err := parseChannelCell("chan-1 !quiet +whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "chan-1" || !quiet || !sms {
		t.Errorf("unexpected parse result: id=%s quiet=%v sms=%v", id, quiet, sms)
	}
}
