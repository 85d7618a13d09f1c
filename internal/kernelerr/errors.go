// Package kernelerr defines the filesystem's error taxonomy as ordinary
// sentinel values, in the style of the storage layer this kernel grew out
// of. Callers compare with errors.Is; components wrap these with context as
// they propagate.
package kernelerr

import "errors"

var (
	// ErrPathNotFound is returned when any path component is absent or
	// not a directory.
	ErrPathNotFound = errors.New("path not found")

	// ErrNameExists is returned by Create when the target name is
	// already present in the parent directory.
	ErrNameExists = errors.New("name already exists")

	// ErrNotEmpty is returned by Remove on a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrNoSpace is returned when the free map cannot satisfy an
	// allocation or growth request.
	ErrNoSpace = errors.New("no space left on device")

	// ErrBusy is returned by Open when the target file is flagged for
	// removal.
	ErrBusy = errors.New("file busy, pending removal")

	// ErrKindMismatch is returned by Open on a directory, or Cd on a
	// file.
	ErrKindMismatch = errors.New("kind mismatch")

	// ErrReserved is returned when creating a root-level directory whose
	// name begins with the reserved swap-file prefix.
	ErrReserved = errors.New("reserved name")

	// ErrOutOfHandles is returned when a process's open-file table is
	// full.
	ErrOutOfHandles = errors.New("out of file handles")

	// ErrInvalidArgument is returned for a null user pointer, a
	// non-positive size, or a name/path that overflows its length limit.
	ErrInvalidArgument = errors.New("invalid argument")
)
