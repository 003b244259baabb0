package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ScheduledJob is one row of the schedule document, bound into a live
// schedule. Identity is the (Skill, ScheduleSpec, Channel) tuple; the Hash
// covers those three plus Enabled, so Reload can keep the existing binding
// of a row that did not change.
type ScheduledJob struct {
	Name         string
	SkillName    string
	ScheduleSpec string
	Channel      string
	Enabled      bool

	spec        Spec
	channelID   string
	ignoreQuiet bool
	mirrorToSMS bool
	hash        string
}

// Hash returns the stable identity hash used to detect unchanged rows on Reload.
func (j *ScheduledJob) Hash() string { return j.hash }

// ChannelID returns the bare channel identifier, with the "!quiet" and
// "+whatsapp" flags already stripped off. A job built outside ParseDocument
// derives it from the raw Channel cell on first use.
func (j *ScheduledJob) ChannelID() string {
	if j.channelID != "" {
		return j.channelID
	}
	id, _, _, err := parseChannelCell(j.Channel)
	if err != nil {
		return strings.TrimSpace(j.Channel)
	}
	return id
}

// MirrorToSMS reports whether the row carried the "+whatsapp" flag asking
// for a mirrored copy on the external SMS-like egress.
func (j *ScheduledJob) MirrorToSMS() bool { return j.mirrorToSMS }

// BypassesQuietHours reports whether the row carried the "!quiet" flag.
func (j *ScheduledJob) BypassesQuietHours() bool { return j.ignoreQuiet }

// ParseDocument parses a schedule document: a header row naming the columns
// Job, Skill, Schedule, Channel, Enabled (pipe- or tab-delimited, in any
// order) followed by one row per job. Blank lines and lines starting with
// "#" are ignored. Rows sharing a (skill, schedule, channel) identity are
// collapsed to the first occurrence; each dropped duplicate is reported as
// a warning.
func ParseDocument(doc string, defaultLoc *time.Location) ([]*ScheduledJob, []string, error) {
	lines := strings.Split(doc, "\n")

	var header []string
	var rows [][]string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		cells := splitRow(trimmed)
		if isSeparatorRow(cells) {
			continue
		}
		if header == nil {
			header = normalizeHeader(cells)
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return nil, nil, fmt.Errorf("schedule document: no header row found")
	}

	colIdx := map[string]int{}
	for i, name := range header {
		colIdx[name] = i
	}
	for _, required := range []string{"job", "skill", "schedule", "channel", "enabled"} {
		if _, ok := colIdx[required]; !ok {
			return nil, nil, fmt.Errorf("schedule document: missing required column %q", required)
		}
	}

	seen := map[string]bool{}
	var jobs []*ScheduledJob
	var warnings []string
	for _, row := range rows {
		job, err := parseRow(row, colIdx, defaultLoc)
		if err != nil {
			return nil, nil, err
		}
		key := job.SkillName + "|" + job.ScheduleSpec + "|" + job.Channel
		if seen[key] {
			warnings = append(warnings, fmt.Sprintf("duplicate row %q dropped (same skill/schedule/channel as an earlier row)", job.Name))
			continue
		}
		seen[key] = true
		jobs = append(jobs, job)
	}
	return jobs, warnings, nil
}

func parseRow(row []string, colIdx map[string]int, defaultLoc *time.Location) (*ScheduledJob, error) {
	cell := func(name string) string {
		idx, ok := colIdx[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	name := cell("job")
	skillName := cell("skill")
	scheduleSpec := cell("schedule")
	channelRaw := cell("channel")
	enabledRaw := strings.ToLower(cell("enabled"))

	if name == "" {
		return nil, fmt.Errorf("schedule document: row missing job name")
	}
	if skillName == "" {
		return nil, fmt.Errorf("schedule document row %q: missing skill name", name)
	}

	spec, err := ParseSpec(scheduleSpec, defaultLoc)
	if err != nil {
		return nil, fmt.Errorf("schedule document row %q: %w", name, err)
	}

	channelID, ignoreQuiet, mirrorToSMS, err := parseChannelCell(channelRaw)
	if err != nil {
		return nil, fmt.Errorf("schedule document row %q: %w", name, err)
	}

	enabled := parseBoolLoose(enabledRaw)

	job := &ScheduledJob{
		Name:         name,
		SkillName:    skillName,
		ScheduleSpec: scheduleSpec,
		Channel:      channelRaw,
		Enabled:      enabled,
		spec:         spec,
		channelID:    channelID,
		ignoreQuiet:  ignoreQuiet,
		mirrorToSMS:  mirrorToSMS,
	}
	job.hash = hashJob(job)
	return job, nil
}

// parseChannelCell splits a channel cell's base identifier from its
// optional "!quiet" and "+whatsapp" flags, in any order.
func parseChannelCell(raw string) (channelID string, ignoreQuiet, mirrorToSMS bool, err error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false, false, fmt.Errorf("empty channel cell")
	}
	channelID = fields[0]
	for _, f := range fields[1:] {
		switch f {
		case "!quiet":
			ignoreQuiet = true
		case "+whatsapp":
			mirrorToSMS = true
		default:
			return "", false, false, fmt.Errorf("unrecognised channel flag %q", f)
		}
	}
	return channelID, ignoreQuiet, mirrorToSMS, nil
}

func parseBoolLoose(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "yes", "y", "1", "on", "enabled":
		return true
	default:
		return false
	}
}

func normalizeHeader(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

// splitRow accepts pipe- or tab-delimited rows, trimming a leading/trailing
// empty cell produced by a leading/trailing "|" (markdown-table style).
func splitRow(line string) []string {
	var parts []string
	if strings.Contains(line, "|") {
		parts = strings.Split(line, "|")
	} else {
		parts = strings.Split(line, "\t")
	}
	var cells []string
	for i, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" && (i == 0 || i == len(parts)-1) {
			continue
		}
		cells = append(cells, trimmed)
	}
	return cells
}

// isSeparatorRow matches markdown-table divider rows like "---|---|---".
func isSeparatorRow(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func hashJob(j *ScheduledJob) string {
	sum := sha256.Sum256([]byte(j.SkillName + "|" + j.ScheduleSpec + "|" + j.Channel + "|" + boolStr(j.Enabled)))
	return hex.EncodeToString(sum[:])
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
