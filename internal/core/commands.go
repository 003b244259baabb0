package core

import "strings"

// rawSuffix is the debug suffix on a user message that bypasses the
// sanitiser/classifier and wraps the agent's raw output in a code fence.
const rawSuffix = "--raw"

// command names the in-chat administrative commands. Every other skill
// invocation ("/weathernow", a trigger phrase) flows through the ordinary
// skills.Registry.Resolve path instead.
type command string

const (
	commandStatus         command = "status"
	commandReloadSchedule command = "reload-schedule"
	commandSkill          command = "skill"
)

// parseCommand recognizes the chat-native form of the operator command
// surface: "/status", "/reload-schedule", and "/skill <name>". Anything
// else (including a bare "/<skillname>", which skills.Registry.Resolve
// handles as its own command-bypass convention) returns ok=false.
func parseCommand(text string) (cmd command, arg string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	body := strings.TrimPrefix(trimmed, "/")
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", "", false
	}

	switch fields[0] {
	case string(commandStatus):
		return commandStatus, "", true
	case string(commandReloadSchedule):
		return commandReloadSchedule, "", true
	case string(commandSkill):
		if len(fields) < 2 {
			return "", "", false
		}
		return commandSkill, fields[1], true
	default:
		return "", "", false
	}
}

// stripDebugSuffix removes a trailing "--raw" token and reports whether it
// was present.
func stripDebugSuffix(text string) (string, bool) {
	trimmed := strings.TrimRight(text, " \t")
	if !strings.HasSuffix(trimmed, rawSuffix) {
		return text, false
	}
	stripped := strings.TrimSuffix(trimmed, rawSuffix)
	return strings.TrimRight(stripped, " \t"), true
}
