package app

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// colorEnabled reports whether ANSI output makes sense for f.
func colorEnabled(f *os.File, want bool) bool {
	if !want || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func colorizeHTTPMethod(m string, color bool) string {
	if !color {
		return m
	}
	switch m {
	case "GET", "HEAD":
		return ansiBlue + m + ansiReset
	case "POST":
		return ansiGreen + m + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + m + ansiReset
	case "DELETE":
		return ansiRed + m + ansiReset
	default:
		return ansiMagenta + m + ansiReset
	}
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	return statusColor(code) + s + ansiReset
}

func colorizeStatusClass(class string, color bool) string {
	if !color || class == "" {
		return class
	}
	code, err := strconv.Atoi(class[:1])
	if err != nil {
		return class
	}
	return statusColor(code*100) + class + ansiReset
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success":
		return ansiGreen + result + ansiReset
	case "redirect":
		return ansiCyan + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	case "server_error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}

// colorizeVerdict marks billing verdicts: OK passes, INSUFFICIENT and
// STOPPED are expected denials, anything else is unknown.
func colorizeVerdict(v string, color bool) string {
	if !color {
		return v
	}
	switch v {
	case "OK":
		return ansiGreen + v + ansiReset
	case "INSUFFICIENT", "STOPPED":
		return ansiYellow + v + ansiReset
	default:
		return ansiRed + v + ansiReset
	}
}

func colorizeSessionState(state string, color bool) string {
	if !color {
		return state
	}
	switch state {
	case "ACTIVE":
		return ansiGreen + state + ansiReset
	case "REVOKED":
		return ansiRed + state + ansiReset
	default:
		return ansiDim + state + ansiReset
	}
}

// humanBytes renders sizes from 1 KiB upward with one decimal.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + "B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + string("KMGTP"[exp]) + "iB"
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// truncateVisual cuts s to at most width visible runes, ending in an ellipsis.
func truncateVisual(s string, width int) string {
	plain := []rune(stripANSI(s))
	if len(plain) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(plain[:width-1]) + "…"
}

// wrapSegments packs segments greedily into lines no wider than width.
// Continuation lines start with indent; a segment that cannot fit on its own
// line is truncated.
func wrapSegments(segments []string, sep string, width int, indent string) []string {
	var (
		lines []string
		cur   strings.Builder
		used  int
	)
	for _, seg := range segments {
		prefix := ""
		if cur.Len() > 0 {
			prefix = sep
		} else if len(lines) > 0 {
			prefix = indent
		}
		segLen := visualLen(seg)
		if cur.Len() > 0 && used+len(prefix)+segLen > width {
			lines = append(lines, cur.String())
			cur.Reset()
			used = 0
			prefix = indent
		}
		if room := width - used - len(prefix); segLen > room {
			seg = truncateVisual(seg, room)
			segLen = visualLen(seg)
		}
		cur.WriteString(prefix)
		cur.WriteString(seg)
		used += len(prefix) + segLen
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// terminalWidth prefers PLAYGATE_LOG_WIDTH, then COLUMNS. Values narrower
// than minLogWidth fall back to defaultLogWidth.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"PLAYGATE_LOG_WIDTH", "COLUMNS"} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < minLogWidth {
			return defaultLogWidth
		}
		return n
	}
	return defaultLogWidth
}
