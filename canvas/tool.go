package canvas

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ToolKind selects what pointer input does to the surface.
type ToolKind string

const (
	Brush  ToolKind = "brush"
	Eraser ToolKind = "eraser"
	Text   ToolKind = "text"
	Image  ToolKind = "image"
)

const (
	MinSize = 1
	MaxSize = 50

	DefaultWidth  = 800
	DefaultHeight = 600

	// MaxDimension bounds either side of a canvas or decoded image.
	MaxDimension = 4096

	// ThumbnailMax bounds the longer side of a thumbnail.
	ThumbnailMax = 300
)

// Background is the fill used by Clear and new blank drawings.
var Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Palette is the preset color row offered next to the free color picker.
var Palette = []string{
	"#f97316", // orange
	"#d946ef", // magenta
	"#ff5252", // coral
	"#facc15", // lemon
	"#0ea5e9", // azure
	"#8b5cf6", // violet
	"#10b981", // emerald
	"#ec4899", // pink
}

// Tool is the active tool with its stroke width (or font scale) and color.
type Tool struct {
	Kind  ToolKind `json:"kind"`
	Size  int      `json:"size"`
	Color string   `json:"color"`
}

// DefaultTool is a 5px black brush.
func DefaultTool() Tool {
	return Tool{Kind: Brush, Size: 5, Color: "#000000"}
}

func (k ToolKind) Valid() bool {
	switch k {
	case Brush, Eraser, Text, Image:
		return true
	}
	return false
}

// ClampSize limits size to [MinSize, MaxSize].
func ClampSize(size int) int {
	if size < MinSize {
		return MinSize
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// RGBA returns the tool color, falling back to opaque black.
func (t Tool) RGBA() color.RGBA {
	c, err := ParseColor(t.Color)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return c
}

// ParseColor accepts "#rgb", "#rrggbb" or a CSS color name.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}

	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// FormatColor renders c as "#rrggbb".
func FormatColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
