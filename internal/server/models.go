package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jalsarovar/wflow/internal/registry"
	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/trainer"
)

// ModelVersionRepo reads persisted model-version metadata.
type ModelVersionRepo interface {
	ListModelVersions(ctx context.Context, parameter string, limit int) ([]store.ModelVersionRecord, error)
}

// ModelsHandler inspects the live registry and triggers retraining.
type ModelsHandler struct {
	Registry *registry.Registry
	Repo     ModelVersionRepo
	Trainer  *trainer.Trainer
}

func (h *ModelsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:parameter/versions", h.versions)
	g.POST("/train", h.train)
}

type modelSummary struct {
	Parameter    string    `json:"parameter"`
	Version      string    `json:"version"`
	TrainedAt    time.Time `json:"trained_at"`
	R2           float64   `json:"r2"`
	Warning      bool      `json:"warning"`
	TrainingSize int       `json:"training_size"`
}

func (h *ModelsHandler) list(c echo.Context) error {
	snap := h.Registry.Current()
	out := []modelSummary{}
	for _, param := range snap.Parameters() {
		m, ok := snap.Model(param)
		if !ok {
			continue
		}
		out = append(out, modelSummary{
			Parameter:    m.Parameter(),
			Version:      m.Version(),
			TrainedAt:    m.TrainedAt(),
			R2:           m.R2(),
			Warning:      m.Warning(),
			TrainingSize: m.TrainingSize(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

type versionSummary struct {
	ID             string    `json:"id"`
	R2             float64   `json:"r2"`
	Warning        bool      `json:"warning"`
	TrainingRows   int       `json:"training_rows"`
	SnapshotCutoff time.Time `json:"snapshot_cutoff"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *ModelsHandler) versions(c echo.Context) error {
	records, err := h.Repo.ListModelVersions(c.Request().Context(), c.Param("parameter"), 50)
	if err != nil {
		return err
	}
	out := make([]versionSummary, 0, len(records))
	for _, r := range records {
		out = append(out, versionSummary{
			ID:             r.ID,
			R2:             r.R2,
			Warning:        r.Warning,
			TrainingRows:   r.TrainingRows,
			SnapshotCutoff: r.SnapshotCutoff,
			Current:        r.Current,
			CreatedAt:      r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type trainResponse struct {
	Results []trainer.Result `json:"results"`
}

// train runs a synchronous retraining pass over all parameters. Heavy, but
// operator-initiated and bounded by the request timeout.
func (h *ModelsHandler) train(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), okTimeout)
	defer cancel()
	results := h.Trainer.TrainAll(ctx, time.Now().UTC())
	return c.JSON(http.StatusOK, trainResponse{Results: results})
}
