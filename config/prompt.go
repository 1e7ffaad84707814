package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
)

// PromptFileName is the optional system prompt template in the working directory.
const PromptFileName = "hanabi.system.prompt.md"

// ChatHandles documents the terminal chat commands, in display order.
var ChatHandles = [][2]string{
	{"/exit", "Exit Hanabi"},
	{"/reset", "Reset chat"},
	{"/copy", "Last Msg"},
	{"/llm", "change llm"},
	{"@file", "Add file"},
	{"@mcp", "Use MCP"},
	{"/help", "Show help"},
}

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

// SystemMessages builds the system messages that open every conversation:
// the built-in context, the configured systemPrompt, and the expanded
// prompt template from dir when present.
func (c *Config) SystemMessages(dir string, now time.Time) []hanabi.Message {
	msgs := []hanabi.Message{hanabi.NewSystemMessage(defaultSystemPrompt(now))}
	if c.SystemPrompt != "" {
		msgs = append(msgs, hanabi.NewSystemMessage(c.SystemPrompt))
	}
	if tmpl, err := os.ReadFile(filepath.Join(dir, PromptFileName)); err == nil {
		msgs = append(msgs, hanabi.NewSystemMessage(ExpandPrompt(string(tmpl), dir)))
	}
	return msgs
}

func defaultSystemPrompt(now time.Time) string {
	var b strings.Builder
	b.WriteString("Act as an AI assistant with access to various tools (if provided).\n")
	b.WriteString("User might be using a terminal interface to interact with you.\n\n")
	b.WriteString("## Context\n")
	fmt.Fprintf(&b, "- Today is %s\n", now.Format("Mon Jan 02 2006"))
	fmt.Fprintf(&b, "- Chat started at %s\n", now.Format("15:04:05 MST"))
	fmt.Fprintf(&b, "- Timezone is %s\n\n", now.Location())
	b.WriteString("## Built-in Tools\n")
	b.WriteString("- `run-shell-command`: Run a shell command in the current working directory. ")
	b.WriteString("Always ask user for confirmation before running. If necessary, read relevant ")
	b.WriteString("project setup files within the working directory to find the correct commands.\n\n")
	b.WriteString("## Help Documentation\n")
	b.WriteString("When the user asks how to use the terminal interface (e.g. \"/help\"), show this list of commands:\n\n")
	for _, h := range ChatHandles {
		fmt.Fprintf(&b, "%s\t%s\n", h[0], h[1])
	}
	return b.String()
}

// ExpandPrompt replaces ${NAME} with the environment variable NAME. A value
// starting with file:// is replaced by the contents of that file, relative
// to dir, in a fenced block. Unset variables stay in place.
func ExpandPrompt(tmpl, dir string) string {
	log := logging.Component("config")
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		val := os.Getenv(name)
		if val == "" {
			log.Warn().Str("name", name).Msg("system prompt file: missing env")
			return match
		}
		path, ok := strings.CutPrefix(val, "file://")
		if !ok {
			return val
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Str("path", path).Msg("system prompt file: unreadable include")
			return match
		}
		return "```\n" + string(content) + "\n```"
	})
}
