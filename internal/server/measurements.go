package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/trainer"
)

// MeasurementRepo ingests measurement batches.
type MeasurementRepo interface {
	InsertMeasurements(ctx context.Context, batch []store.Measurement) (int, error)
}

// ResidualSink consumes accepted lab results for drift tracking. The trainer
// implements it; an alarm retrains the affected parameter.
type ResidualSink interface {
	IngestLabResults(ctx context.Context, batch []store.Measurement) []trainer.Result
}

// MeasurementsHandler accepts sensor and lab readings in bulk. Drift is
// optional; when set, every accepted batch is scored against the current
// models.
type MeasurementsHandler struct {
	Repo  MeasurementRepo
	Drift ResidualSink
}

func (h *MeasurementsHandler) Register(g *echo.Group) {
	g.POST("/batch", h.batch)
}

type measurementPayload struct {
	SiteID         string   `json:"site_id"`
	Parameter      string   `json:"parameter"`
	Value          float64  `json:"value"`
	MeasuredAt     string   `json:"measured_at"`
	Source         string   `json:"source"`
	RawUncertainty *float64 `json:"raw_uncertainty,omitempty"`
}

type batchResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

func (h *MeasurementsHandler) batch(c echo.Context) error {
	var payload []measurementPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty batch")
	}

	batch := make([]store.Measurement, 0, len(payload))
	for _, m := range payload {
		ts, err := time.Parse(time.RFC3339, m.MeasuredAt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "measured_at must be RFC3339: "+err.Error())
		}
		batch = append(batch, store.Measurement{
			SiteID:         m.SiteID,
			Parameter:      m.Parameter,
			Value:          m.Value,
			MeasuredAt:     ts,
			Source:         m.Source,
			RawUncertainty: m.RawUncertainty,
		})
	}

	inserted, err := h.Repo.InsertMeasurements(c.Request().Context(), batch)
	if err != nil {
		if errors.Is(err, store.ErrInvalidMeasurement) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return err
	}
	if h.Drift != nil {
		h.Drift.IngestLabResults(c.Request().Context(), batch)
	}
	return c.JSON(http.StatusAccepted, batchResponse{Received: len(batch), Inserted: inserted})
}
