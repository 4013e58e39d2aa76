package classify

import (
	"strconv"
	"strings"
)

// color is a normalized rgba value. Alpha defaults to 1 when unspecified.
type color struct {
	r, g, b int
	a       float64
}

// backgroundColor extracts and normalizes the background-color declaration
// from an inline style attribute. Returns false if the style has no
// parseable background-color. "background" shorthand is not interpreted;
// the sites under watch always emit the longhand property.
func backgroundColor(style string) (color, bool) {
	for _, decl := range strings.Split(style, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "background-color") {
			continue
		}
		return parseColor(value)
	}
	return color{}, false
}

// parseColor parses an rgb()/rgba() value, tolerating arbitrary whitespace
// and case. Anything else (named colors, hex) does not match the palette
// and returns false.
func parseColor(s string) (color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))

	var body string
	switch {
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		body = s[len("rgba(") : len(s)-1]
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		body = s[len("rgb(") : len(s)-1]
	default:
		return color{}, false
	}

	parts := strings.Split(body, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color{}, false
	}

	var c color
	c.a = 1
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < 3 {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 || n > 255 {
				return color{}, false
			}
			switch i {
			case 0:
				c.r = n
			case 1:
				c.g = n
			case 2:
				c.b = n
			}
			continue
		}
		a, err := strconv.ParseFloat(p, 64)
		if err != nil || a < 0 || a > 1 {
			return color{}, false
		}
		c.a = a
	}
	return c, true
}
