package chat

import (
	"strings"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	ideasPrefix  = "generate ideas:"
	scriptPrefix = "create script:"
)

// Command is the classification of one chat message
type Command interface {
	command()
}

// IdeaRequest asks for episode ideas on a theme
type IdeaRequest struct {
	Theme string
}

// ScriptRequest asks for a script template. Outline and Duration may be empty.
type ScriptRequest struct {
	Title    string
	Outline  string
	Duration string
}

// General is any message without a command prefix
type General struct {
	Message string
}

// MalformedCommand has a recognized prefix but nothing usable after it
type MalformedCommand struct {
	Prefix string
}

// Err describes the problem as an error tagged with model.ErrMalformedCommand
func (m MalformedCommand) Err() error {
	return goerr.Wrap(model.ErrMalformedCommand, "command has no usable arguments", goerr.V("prefix", m.Prefix))
}

func (IdeaRequest) command()      {}
func (ScriptRequest) command()    {}
func (General) command()          {}
func (MalformedCommand) command() {}

// Classify picks the branch for message. Prefixes match case-insensitively
// at the very start of the message; leading whitespace makes it general.
func Classify(message string) Command {
	if rest, ok := cutPrefixFold(message, ideasPrefix); ok {
		theme := strings.TrimSpace(rest)
		if theme == "" {
			return MalformedCommand{Prefix: ideasPrefix}
		}
		return IdeaRequest{Theme: theme}
	}

	if rest, ok := cutPrefixFold(message, scriptPrefix); ok {
		req := parseScript(rest)
		if req.Title == "" {
			return MalformedCommand{Prefix: scriptPrefix}
		}
		return req
	}

	return General{Message: message}
}

// parseScript splits "title: outline: duration". Duration is kept only when it mentions minutes.
func parseScript(rest string) ScriptRequest {
	parts := strings.Split(rest, ":")

	req := ScriptRequest{Title: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		req.Outline = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && strings.Contains(parts[2], "min") {
		req.Duration = strings.TrimSpace(parts[2])
	}
	return req
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
