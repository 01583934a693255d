// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pixel

// Size is a width/height pair in pixels.
type Size struct {
	Width, Height int
}

func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Rectangle is an axis-aligned integer rectangle, x/y at the top-left.
type Rectangle struct {
	X, Y, Width, Height int
}

func (r Rectangle) Size() Size { return Size{r.Width, r.Height} }

func (r Rectangle) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Rectangle) Right() int  { return r.X + r.Width }
func (r Rectangle) Bottom() int { return r.Y + r.Height }

// Intersect clips r to bounds, returning an empty rectangle if disjoint.
func (r Rectangle) Intersect(bounds Rectangle) Rectangle {
	x0, y0 := max(r.X, bounds.X), max(r.Y, bounds.Y)
	x1, y1 := min(r.Right(), bounds.Right()), min(r.Bottom(), bounds.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rectangle{}
	}
	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Inflate grows r by margin on every side, without clipping.
func (r Rectangle) Inflate(margin int) Rectangle {
	return Rectangle{
		X: r.X - margin, Y: r.Y - margin,
		Width: r.Width + 2*margin, Height: r.Height + 2*margin,
	}
}

// Contains reports whether r fully contains other.
func (r Rectangle) Contains(other Rectangle) bool {
	return other.X >= r.X && other.Y >= r.Y && other.Right() <= r.Right() && other.Bottom() <= r.Bottom()
}
