// Package segment implements the per (data-source, RR-class) SegmentInfo
// state machine described in the design: the pair of Segment handles, the
// reader/old-reader sets, and the event queue that drives the builder.
//
// The actual memory-mapping primitive is an external collaborator; Segment
// here is the narrow handle interface the manager and builder need, plus a
// file-based implementation good enough to exercise the state machine and
// the builder worker end to end without a real mmap'd zone table.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
)

// Role distinguishes which half of a Pair a caller is asking about.
type Role int

const (
	RoleReader Role = iota
	RoleWriter
)

// ResetParam is the opaque, serializable attach parameter a reader uses to
// map a segment. It is deliberately just a path and a mode string: the
// layout of what lives at that path is owned by the Segment implementation,
// not by this module.
type ResetParam struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

// Segment is an abstract handle to one generation of loaded zone data.
type Segment interface {
	// ResetParam returns the attach parameters a reader needs, or false if
	// the segment has never been built (first load still pending).
	ResetParam() (ResetParam, bool)

	// Path to the backing storage, used by the default loader.
	Path() string
}

// FileSegmentHandle is the default Segment implementation: a single flat
// file under the manager's mapped_file_dir. It is intentionally simple —
// the real memory-mapping primitive is out of scope — but it lets the
// builder and the loader interface be exercised with a real filesystem
// side effect. Exported so the loader package can recover the concrete
// type to learn the path to write to.
type FileSegmentHandle struct {
	path    string
	mode    string
	written bool
}

// NewFileSegment creates a Segment backed by path. mode is carried through
// to readers verbatim (e.g. "local" vs "mapped").
func NewFileSegment(path, mode string) Segment {
	return &FileSegmentHandle{path: path, mode: mode}
}

func (f *FileSegmentHandle) Path() string { return f.path }

func (f *FileSegmentHandle) ResetParam() (ResetParam, bool) {
	if !f.written {
		return ResetParam{}, false
	}
	return ResetParam{Path: f.path, Mode: f.mode}, true
}

// MarkWritten flags the segment as having been populated at least once.
// Called by the loader after a successful build.
func (f *FileSegmentHandle) MarkWritten() { f.written = true }

// Pair is the two Segment handles a SegmentInfo owns: one readable, one
// writable, swapped on every completed build.
type Pair struct {
	A, B Segment
}

// NewFilePair builds a Pair of file-backed segments for (class, dataSource)
// rooted at dir, named so two SegmentInfos never collide on disk.
func NewFilePair(dir string, class, dataSource string) Pair {
	base := fmt.Sprintf("%s-%s", class, dataSource)
	return Pair{
		A: NewFileSegment(filepath.Join(dir, base+".0"), "mapped"),
		B: NewFileSegment(filepath.Join(dir, base+".1"), "mapped"),
	}
}

// EnsureDir makes sure dir exists and is writable, matching the
// mapped_file_dir validation the config layer performs before adoption.
func EnsureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe := filepath.Join(dir, ".memmgr-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
