package prompt

import "strings"

// Marker is inserted where text was cut.
const Marker = "[...TRUNCATED...]"

// Truncation strategies recorded in generation metadata.
const (
	NoTruncation = "no_truncation"
	HeadTail     = "head_tail"
)

// SmartTruncate keeps the first 60% and last 40% of a budget of max
// characters, joined by Marker, so both the framing sections and the results
// of a long paper survive. Lengths count runes.
func SmartTruncate(text string, max int) (string, string) {
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text, NoTruncation
	}
	headLen := max * 6 / 10
	tailLen := max - headLen
	head := strings.TrimRight(string(r[:headLen]), " \t\r\n")
	tail := strings.TrimLeft(string(r[len(r)-tailLen:]), " \t\r\n")
	return head + "\n\n" + Marker + "\n\n" + tail, HeadTail
}

// TruncateHead keeps the first max runes of text followed by Marker.
func TruncateHead(text string, max int) string {
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text
	}
	return strings.TrimRight(string(r[:max]), " \t\r\n") + "\n\n" + Marker
}

// Clip cuts text to at most max runes without a marker.
func Clip(text string, max int) string {
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text
	}
	return string(r[:max])
}
