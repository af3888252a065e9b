package matrix

// Layout describes a grid of LEDs wired as one folded strip.
type Layout struct {
	Width  int
	Height int
}

// DefaultLayout is the 5×5 matrix.
var DefaultLayout = Layout{Width: DefaultWidth, Height: DefaultHeight}

// Count returns the number of LEDs in the grid.
func (l Layout) Count() int {
	return l.Width * l.Height
}

// Contains reports whether (x, y) lies on the grid.
func (l Layout) Contains(x, y int) bool {
	return x >= 0 && x < l.Width && y >= 0 && y < l.Height
}

// MapCoordinate converts a column and row into a strip index. The strip is
// wired serpentine: even rows run one way, odd rows the other, and the first
// LED on the strip sits at the last grid position.
func (l Layout) MapCoordinate(x, y int) int {
	if y%2 == 0 {
		return (l.Count() - 1) - (y*l.Width + x)
	}
	return (l.Count() - 1) - (y*l.Width + (l.Width - 1 - x))
}

// MapCoordinate maps (x, y) on the default 5×5 matrix.
func MapCoordinate(x, y int) int {
	return DefaultLayout.MapCoordinate(x, y)
}
