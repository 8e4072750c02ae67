package snippet

import (
	"strconv"
	"strings"
	"time"
)

// Variable heads recognized between "#{" and "}". The payload follows the
// first colon; its shape depends on the head.
//
//	#{clipboard}                 clipboard snapshot
//	#{cursor}                    caret placement marker
//	#{date} #{time} #{dateTime}  fixed-layout date/time
//	#{dateTime:<layout>}         custom Go time layout
//	#{envVar:<name>}             environment variable
//	#{input:<prompt>[:<def>]}    user prompt with optional default
//	#{script:<path> [args...]}   external program, args split on spaces
//	#{delay:<ms>}                rendering pause
//	#{name[:upper|lower|trim]}   firing combo's display name
//
// Parse turns template text into its fragment sequence. The parser is
// total: unknown variables, malformed payloads and unterminated "#{" all
// stay in the output as literal text, so a template with no valid
// variables round-trips as a single literal fragment.
func Parse(template string) []Fragment {
	var frags []Fragment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			frags = append(frags, Literal(lit.String()))
			lit.Reset()
		}
	}

	rest := template
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			lit.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			lit.WriteString(rest)
			break
		}

		raw := rest[start : start+end+1]
		inner := rest[start+2 : start+end]
		lit.WriteString(rest[:start])
		rest = rest[start+end+1:]

		frag, ok := parseVariable(inner)
		if !ok {
			lit.WriteString(raw)
			continue
		}
		flush()
		frags = append(frags, frag)
	}
	flush()
	return frags
}

// parseVariable decodes the text between the braces. ok is false for
// anything that should stay literal.
func parseVariable(inner string) (Fragment, bool) {
	head, payload, hasPayload := strings.Cut(inner, ":")
	switch head {
	case "clipboard":
		if hasPayload {
			return Fragment{}, false
		}
		return Clipboard(), true

	case "cursor":
		if hasPayload {
			return Fragment{}, false
		}
		return Cursor(), true

	case "date":
		if hasPayload {
			return Fragment{}, false
		}
		return DateTime(StyleDate, ""), true

	case "time":
		if hasPayload {
			return Fragment{}, false
		}
		return DateTime(StyleTime, ""), true

	case "dateTime":
		if !hasPayload {
			return DateTime(StyleDateTime, ""), true
		}
		if payload == "" {
			return Fragment{}, false
		}
		return DateTime(StyleCustom, payload), true

	case "envVar":
		if payload == "" {
			return Fragment{}, false
		}
		return EnvVar(payload), true

	case "input":
		prompt, def, _ := strings.Cut(payload, ":")
		if prompt == "" {
			return Fragment{}, false
		}
		return Input(prompt, def), true

	case "script":
		fields := strings.Fields(payload)
		if len(fields) == 0 {
			return Fragment{}, false
		}
		return Script(fields[0], fields[1:]), true

	case "delay":
		ms, err := strconv.Atoi(strings.TrimSpace(payload))
		if err != nil || ms < 0 {
			return Fragment{}, false
		}
		return Delay(time.Duration(ms) * time.Millisecond), true

	case "name":
		if !hasPayload {
			return ComboName(CaseAsIs), true
		}
		switch payload {
		case "upper":
			return ComboName(CaseUpper), true
		case "lower":
			return ComboName(CaseLower), true
		case "trim":
			return ComboName(CaseTrimmed), true
		}
		return Fragment{}, false
	}
	return Fragment{}, false
}
