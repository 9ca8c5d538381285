package contracts

import (
	"github.com/cockroachdb/errors"
)

// Failure taxonomy. Constructors attach context to a cause while marking
// it with the matching sentinel; callers classify with the Is* helpers.
// Only ErrNotFound (and config validation) is fatal; the rest downgrade
// to recorded warnings at their own scope.
var (
	ErrNotFound        = errors.New("path not found")
	ErrUnreadableSlide = errors.New("slide not readable")
	ErrRegionRead      = errors.New("region read failed")
	ErrWrite           = errors.New("write failed")
)

func NewNotFound(path string) error {
	return errors.Mark(errors.Newf("path does not exist: %s", path), ErrNotFound)
}

func MarkNotFound(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrNotFound)
}

func NewUnreadableSlide(path string, cause error) error {
	if cause == nil {
		return errors.Mark(errors.Newf("unreadable slide %s", path), ErrUnreadableSlide)
	}
	return errors.Mark(errors.Wrapf(cause, "unreadable slide %s", path), ErrUnreadableSlide)
}

func NewRegionRead(cause error, level int, r Region) error {
	if cause == nil {
		return errors.Mark(
			errors.Newf("read region level=%d x=%d y=%d w=%d h=%d", level, r.X, r.Y, r.W, r.H),
			ErrRegionRead)
	}
	return errors.Mark(
		errors.Wrapf(cause, "read region level=%d x=%d y=%d w=%d h=%d", level, r.X, r.Y, r.W, r.H),
		ErrRegionRead)
}

func NewWrite(cause error, path string) error {
	if cause == nil {
		return errors.Mark(errors.Newf("write %s", path), ErrWrite)
	}
	return errors.Mark(errors.Wrapf(cause, "write %s", path), ErrWrite)
}

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsUnreadableSlide(err error) bool { return errors.Is(err, ErrUnreadableSlide) }
func IsRegionRead(err error) bool      { return errors.Is(err, ErrRegionRead) }
func IsWrite(err error) bool           { return errors.Is(err, ErrWrite) }
