package util

import (
	"fmt"
	"strings"
)

// parseHexColor parses a hex color string (#RRGGBB) into RGB components.
func parseHexColor(hex string) (r, g, b uint8, err error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid hex color length: %s", hex)
	}

	var ri, gi, bi int
	_, err = fmt.Sscanf(hex, "%02x%02x%02x", &ri, &gi, &bi)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid hex color: %s", hex)
	}

	return uint8(ri), uint8(gi), uint8(bi), nil //nolint:gosec // Values are validated to be 0-255 by hex parsing
}

// rgbToHex converts RGB components to a hex color string (#RRGGBB).
func rgbToHex(r, g, b uint8) string {
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// DarkenColor darkens a hex color by a percentage (0-100).
func DarkenColor(hex string, percent int) string {
	r, g, b, err := parseHexColor(hex)
	if err != nil {
		return hex
	}

	factor := max(1.0-float64(percent)/100.0, 0.0)

	return rgbToHex(
		uint8(float64(r)*factor),
		uint8(float64(g)*factor),
		uint8(float64(b)*factor),
	)
}

// translucent returns hex as a CSS rgba() color with the given alpha.
func translucent(hex string, alpha float64) string {
	r, g, b, err := parseHexColor(hex)
	if err != nil {
		return hex
	}
	return fmt.Sprintf("rgba(%d,%d,%d,%.2f)", r, g, b, alpha)
}

// GenerateBrandCSS generates CSS custom properties for the desk colors,
// including the translucent ring drawn around the record button.
func GenerateBrandCSS(colorLight, colorDark string) string {
	return fmt.Sprintf(
		":root{--brand:%s;--brand-hover:%s;--brand-ring:%s}"+
			"@media(prefers-color-scheme:dark){:root{--brand:%s;--brand-hover:%s;--brand-ring:%s}}",
		colorLight, DarkenColor(colorLight, 10), translucent(colorLight, 0.35),
		colorDark, DarkenColor(colorDark, 10), translucent(colorDark, 0.35),
	)
}
