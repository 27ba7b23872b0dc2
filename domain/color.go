package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rgbPattern = regexp.MustCompile(`^rgba?\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)`)

// NormalizeColor converts hex colors (#rgb or #rrggbb) to rgb(r, g, b). Empty input
// yields DefaultColor and anything else is returned unchanged.
func NormalizeColor(color string) string {
	color = strings.TrimSpace(color)
	if color == "" {
		return DefaultColor
	}
	if r, g, b, ok := parseHex(color); ok {
		return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b)
	}
	return color
}

// WithOpacity returns color as an rgba() value with the given alpha.
func WithOpacity(color string, opacity float64) string {
	color = NormalizeColor(color)
	if r, g, b, ok := parseRGB(color); ok {
		return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, strconv.FormatFloat(opacity, 'f', -1, 64))
	}
	return color
}

// ContrastColor picks black or white text for a background color.
func ContrastColor(color string) string {
	r, g, b, ok := parseRGB(NormalizeColor(color))
	if !ok {
		return "#FFFFFF"
	}
	luminance := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
	if luminance > 0.5 {
		return "#000000"
	}
	return "#FFFFFF"
}

func parseHex(s string) (r, g, b int, ok bool) {
	hex, found := strings.CutPrefix(s, "#")
	if !found {
		return 0, 0, 0, false
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}

func parseRGB(s string) (r, g, b int, ok bool) {
	m := rgbPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	r, _ = strconv.Atoi(m[1])
	g, _ = strconv.Atoi(m[2])
	b, _ = strconv.Atoi(m[3])
	return r, g, b, true
}
