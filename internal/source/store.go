package source

import (
	"context"

	"s13report/internal/domain"
	"s13report/internal/repo"
)

// Store reads what s13 import put in the workspace database.
type Store struct {
	Repo repo.Repo
}

var _ Source = Store{}

func (s Store) Territories(ctx context.Context) ([]domain.Territory, error) {
	return s.Repo.ListTerritories(ctx)
}

func (s Store) History(ctx context.Context) ([]domain.HistoryEvent, error) {
	return s.Repo.ListHistory(ctx, "")
}
