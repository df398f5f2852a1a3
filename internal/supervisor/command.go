package supervisor

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCommand splits a shell-like command string into argv tokens.
// Single and double quotes group words; backslash escapes the next rune.
// No globbing, substitution, or redirection is performed.
func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}
	var (
		tokens   []string
		current  strings.Builder
		inSingle bool
		inDouble bool
		escape   bool
	)

	for _, r := range command {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == '\'':
			if !inDouble {
				inSingle = !inSingle
				continue
			}
			current.WriteRune(r)
		case r == '"':
			if !inSingle {
				inDouble = !inDouble
				continue
			}
			current.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if escape || inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quoted string in command: %s", command)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}

// expandPort substitutes $PORT and ${PORT} references in argv tokens.
// Commands run without a shell, so the substitution the templates count
// on has to happen here.
func expandPort(args []string, port int) []string {
	value := strconv.Itoa(port)
	out := make([]string, len(args))
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "${PORT}", value)
		arg = strings.ReplaceAll(arg, "$PORT", value)
		out[i] = arg
	}
	return out
}
