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

// Package logx is a minimal package-wide logger for the fusion engines.
// It mirrors the teacher's singleton writer, but never calls os.Exit:
// a library has no business terminating its host process.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	mirror io.Writer = nil
	out    io.Writer = os.Stderr
)

// SetMirror additionally copies all log output to w. Tests redirect this
// to a bytes.Buffer to assert on warnings without touching os.Stderr.
func SetMirror(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	mirror = w
}

func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, format, args...)
	if mirror != nil {
		fmt.Fprintf(mirror, format, args...)
	}
}

// Warnf reports a non-fatal anomaly (e.g. a GPSR negative step). Engines
// call this instead of returning an error for the
// per-pixel/per-atom fallbacks spec.md §7 calls "silent" or "non-fatal".
func Warnf(format string, args ...interface{}) {
	Printf("warning: "+format, args...)
}
