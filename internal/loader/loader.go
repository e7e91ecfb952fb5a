// Package loader defines the external zone-loading collaborator the
// builder worker calls into. The real loader (parsing zone data out of a
// configured data source and writing it into a mapped segment) is out of
// scope; this package supplies the interface the builder needs plus a
// simple file-based default good enough to exercise the build pipeline
// end to end, modeled on the teacher's named.conf/zone-file writer in
// internal/bind9.go.
package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/segment"
)

// Loader builds zone data for origin (nil means "all zones for this data
// source") into the writable half of seg, returning once the write is
// durable or an error explaining why it isn't.
type Loader interface {
	Load(ctx context.Context, class domain.RRClass, dataSource domain.DataSourceName, origin *domain.ZoneName, seg segment.Segment) error
}

// FileLoader is the default Loader: it writes a small placeholder payload
// naming the class/data-source/origin to the segment's backing file and
// marks it written. It exists so the builder and the segment state machine
// can be exercised against a real filesystem side effect without a real
// mmap'd zone table.
type FileLoader struct{}

// NewFileLoader returns the default file-backed Loader.
func NewFileLoader() *FileLoader { return &FileLoader{} }

func (l *FileLoader) Load(ctx context.Context, class domain.RRClass, dataSource domain.DataSourceName, origin *domain.ZoneName, seg segment.Segment) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fs, ok := seg.(*segment.FileSegmentHandle)
	if !ok {
		return fmt.Errorf("loader: unsupported segment implementation %T", seg)
	}

	origin_ := "*"
	if origin != nil {
		origin_ = origin.String()
	}
	payload := fmt.Sprintf("class=%s datasource=%s origin=%s\n", class, dataSource, origin_)

	f, err := os.OpenFile(fs.Path(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("loader: open %s: %w", fs.Path(), err)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		return fmt.Errorf("loader: write %s: %w", fs.Path(), err)
	}
	fs.MarkWritten()
	return nil
}
