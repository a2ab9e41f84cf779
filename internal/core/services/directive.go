package services

import (
	"regexp"
	"strings"
)

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// shellQuote returns s as a single shell word.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellCommand renders argv with every argument quoted.
func shellCommand(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func sudo(args ...string) string {
	return shellCommand(append([]string{"sudo"}, args...)...)
}

func pipeline(stages ...string) string {
	return strings.Join(stages, " | ")
}

func allOf(steps ...string) string {
	return strings.Join(steps, " && ")
}

// writeWithTee pipes the output of producer into path as root.
func writeWithTee(producer, path string) string {
	return pipeline(producer, sudo("tee", path)) + " > /dev/null"
}
