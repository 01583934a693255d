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

import "fmt"

// ErrorKind classifies a fusion-core error per spec.md §7.
type ErrorKind int

const (
	// NotFound: a required (tag, date) is missing from the store.
	NotFound ErrorKind = iota
	// ImageKind: pixel kinds disagree, or a kernel saw a disallowed kind.
	ImageKind
	// SizeError: image/window/area sizes are incompatible or empty.
	SizeError
	// InvalidArgument: an option value is out of its documented range.
	InvalidArgument
	// Logic: a precondition was violated (e.g. Predict before SetSrcImages).
	Logic
	// Runtime: catch-all for unexpected internal state.
	Runtime
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case ImageKind:
		return "image-kind error"
	case SizeError:
		return "size error"
	case InvalidArgument:
		return "invalid-argument"
	case Logic:
		return "logic error"
	case Runtime:
		return "runtime error"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type raised by every fusion-core operation.
// Attachment carries the offending kind/size/value, as spec.md §7 requires.
type Error struct {
	Kind       ErrorKind
	Message    string
	Attachment any
}

func (e *Error) Error() string {
	if e.Attachment != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Attachment)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is(err, pixel.NotFound) by comparing kinds, so callers
// can match on kind without type-asserting *Error themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, attachment any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Attachment: attachment}
}

func NotFoundf(tag string, date int32) error {
	return newErr(NotFound, fmt.Sprintf("%s@%d", tag, date), "required image not found")
}

func ImageKindf(offending any, format string, args ...any) error {
	return newErr(ImageKind, offending, format, args...)
}

func Sizef(offending any, format string, args ...any) error {
	return newErr(SizeError, offending, format, args...)
}

func InvalidArgumentf(value any, format string, args ...any) error {
	return newErr(InvalidArgument, value, format, args...)
}

func Logicf(format string, args ...any) error {
	return newErr(Logic, nil, format, args...)
}

func Runtimef(format string, args ...any) error {
	return newErr(Runtime, nil, format, args...)
}
