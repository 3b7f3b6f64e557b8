// Package directive extracts the single structured action a model reply asks
// for: run a command in the shell, write a file, or nothing at all.
package directive

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// Kind tags which variant a Directive holds.
type Kind int

const (
	None Kind = iota
	RunCommand
	WriteFile
)

func (k Kind) String() string {
	switch k {
	case RunCommand:
		return "run"
	case WriteFile:
		return "write_file"
	default:
		return "none"
	}
}

// Directive is one action extracted from assistant text. Command is only
// meaningful for RunCommand and may be empty, which means "press Enter".
// Path and Content are only meaningful for WriteFile.
type Directive struct {
	Kind    Kind
	Command string
	Path    string
	Content string
}

var (
	writeFilePattern = regexp.MustCompile(`<write_file\s+path="([^"]+)">([\s\S]*?)</write_file>`)

	// commandPatterns are tried in order; the first match wins.
	commandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<run>([\s\S]*?)</run>`),
		regexp.MustCompile(`@@@COMMAND@@@([\s\S]*?)@@@END@@@`),
		regexp.MustCompile("```bash\\s*([\\s\\S]*?)\\s*```"),
	}
)

// Parse scans text for a directive. A well-formed write_file block takes
// precedence over any command syntax. Only the first match is used; later
// directives in the same reply are ignored. Text without a well-formed tag
// yields a None directive.
func Parse(text string) Directive {
	if m := writeFilePattern.FindStringSubmatch(text); m != nil {
		path := strings.TrimSpace(m[1])
		if path != "" {
			return Directive{
				Kind:    WriteFile,
				Path:    path,
				Content: strings.TrimSpace(m[2]),
			}
		}
	}

	for _, re := range commandPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return Directive{Kind: RunCommand, Command: strings.TrimSpace(m[1])}
		}
	}

	return Directive{Kind: None}
}

// Actionable reports whether the directive requires shell execution.
func (d Directive) Actionable() bool {
	return d.Kind != None
}

// Payload renders the bytes typed into the remote shell for this directive.
// File bodies travel base64-encoded so shell quoting cannot mangle them.
func (d Directive) Payload() []byte {
	switch d.Kind {
	case RunCommand:
		return []byte(d.Command + "\n")
	case WriteFile:
		encoded := base64.StdEncoding.EncodeToString([]byte(d.Content))
		quoted := shellQuote(d.Path)
		cmd := fmt.Sprintf("echo %q | base64 -d > %s && echo %s", encoded, quoted, shellQuote("File written to "+d.Path))
		return []byte(cmd + "\n")
	default:
		return nil
	}
}

// Describe returns the execution-status text shown while the directive runs.
func (d Directive) Describe() string {
	switch d.Kind {
	case RunCommand:
		if d.Command == "" {
			return "(Sending Enter)"
		}
		return d.Command
	case WriteFile:
		return "Writing file: " + d.Path
	default:
		return ""
	}
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
