package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mrtnsch/checkboxes/internal/protocol"
)

// handleSnapshot serves the full state over plain HTTP, for clients that
// want to render before (or without) opening a websocket.
func (s *Server) handleSnapshot(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.StoreTimeout)
	defer cancel()

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	data, err := protocol.Encode(protocol.NewSnapshot(snap, false))
	if err != nil {
		return err
	}
	if err := c.JSONBlob(http.StatusOK, data); err != nil {
		return fmt.Errorf("failed to write snapshot response: %w", err)
	}
	return nil
}

type countResponse struct {
	Checked int `json:"checked"`
	Total   int `json:"total"`
}

func (s *Server) handleCount(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.StoreTimeout)
	defer cancel()

	checked, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count checkboxes: %w", err)
	}
	if err := c.JSON(http.StatusOK, countResponse{Checked: checked, Total: s.store.Size()}); err != nil {
		return fmt.Errorf("failed to write count response: %w", err)
	}
	return nil
}
