// Package command maps finalized voice transcripts onto local assistant commands.
package command

import "strings"

// Command is a recognized voice command.
type Command string

const (
	None        Command = "none"
	ClearChat   Command = "clear-chat"
	ShowTips    Command = "show-tips"
	ToggleVoice Command = "toggle-voice"
)

type rule struct {
	command Command
	phrases []string
}

// rules are checked in order; the first phrase found wins.
var rules = []rule{
	{ClearChat, []string{"clear chat", "start over"}},
	{ShowTips, []string{"health tips", "show tips"}},
	{ToggleVoice, []string{"toggle voice", "enable voice", "disable voice"}},
}

// Interpret returns the command contained in transcript, or None when the
// transcript should be treated as a question for the assistant.
func Interpret(transcript string) Command {
	text := strings.ToLower(transcript)
	for _, r := range rules {
		for _, p := range r.phrases {
			if strings.Contains(text, p) {
				return r.command
			}
		}
	}
	return None
}

// Phrases lists the trigger phrases for c, for help text.
func Phrases(c Command) []string {
	for _, r := range rules {
		if r.command == c {
			out := make([]string, len(r.phrases))
			copy(out, r.phrases)
			return out
		}
	}
	return nil
}
