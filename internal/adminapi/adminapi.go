// Package adminapi exposes a small read-only introspection surface over
// the manager's live state, using github.com/labstack/echo/v4 — the same
// HTTP framework the teacher wires up for its zone/record CRUD API,
// repurposed here as an operator-facing surface rather than a
// query-serving one.
package adminapi

import (
	"context"
	"net/http"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/manager"
	"github.com/anantadwi13/memmgr/internal/segment"
	"github.com/labstack/echo/v4"
)

// Server wraps an echo.Echo bound to a Manager's registry and roster.
type Server struct {
	e *echo.Echo
	m *manager.Manager
}

// New builds a Server with its routes registered.
func New(m *manager.Manager) *Server {
	s := &Server{e: echo.New(), m: m}
	s.e.HideBanner = true
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/status", s.handleStatus)
	s.e.GET("/segments", s.handleSegments)
	s.e.GET("/readers", s.handleReaders)
}

// Start begins serving on addr. It blocks until the listener fails or is
// closed.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type statusResponse struct {
	Generations []uint64 `json:"generations"`
	LatestGen   uint64   `json:"latest_generation"`
	SegmentCnt  int      `json:"segment_count"`
}

func (s *Server) handleStatus(c echo.Context) error {
	gens := s.m.Registry().Generations()
	resp := statusResponse{}
	for _, g := range gens {
		resp.Generations = append(resp.Generations, g.GenerationID)
	}
	if latest := s.m.Registry().Latest(); latest != nil {
		resp.LatestGen = latest.GenerationID
		resp.SegmentCnt = len(latest.All())
	}
	return c.JSON(http.StatusOK, resp)
}

type segmentRow struct {
	Class       domain.RRClass        `json:"class"`
	DataSource  domain.DataSourceName `json:"datasource"`
	State       segment.State         `json:"state"`
	ReaderCount int                   `json:"reader_count"`
	OldReaders  int                   `json:"old_reader_count"`
	QueueDepth  int                   `json:"queue_depth"`
}

func (s *Server) handleSegments(c echo.Context) error {
	latest := s.m.Registry().Latest()
	if latest == nil {
		return c.JSON(http.StatusOK, []segmentRow{})
	}
	rows := make([]segmentRow, 0, len(latest.All()))
	for _, info := range latest.All() {
		rows = append(rows, segmentRow{
			Class:       info.Key.Class,
			DataSource:  info.Key.DataSource,
			State:       info.CurrentState(),
			ReaderCount: len(info.Readers()),
			OldReaders:  len(info.OldReaders()),
			QueueDepth:  info.QueueDepth(),
		})
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) handleReaders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.m.Roster().Snapshot())
}
