package repository

import (
	"context"
	"sync"
	"testing"

	"seawatch/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memReport(lon, lat float64, active bool) *model.Report {
	return &model.Report{
		Body:        model.Pollution{},
		Location:    model.NewLocation(lon, lat),
		Title:       "t",
		Description: "d",
		Severity:    model.SeverityLow,
		SubmittedBy: uuid.New(),
		IsActive:    active,
	}
}

func TestMemoryReportRepository_FindNear(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	far, err := repo.Create(ctx, memReport(0.02, 0, true))
	require.NoError(t, err)
	near, err := repo.Create(ctx, memReport(0.001, 0, true))
	require.NoError(t, err)
	_, err = repo.Create(ctx, memReport(0.0005, 0, false))
	require.NoError(t, err)
	_, err = repo.Create(ctx, memReport(1, 0, true))
	require.NoError(t, err)

	reports, err := repo.FindNear(ctx, model.NearQuery{
		Location:          model.NewLocation(0, 0),
		MaxDistanceMeters: 5000,
		Limit:             20,
		ActiveOnly:        true,
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, near.ID, reports[0].ID)
	assert.Equal(t, far.ID, reports[1].ID)
	assert.InDelta(t, 111, *reports[0].DistanceMeters, 1)
	assert.InDelta(t, 2224, *reports[1].DistanceMeters, 5)

	capped, err := repo.FindNear(ctx, model.NearQuery{
		Location:          model.NewLocation(0, 0),
		MaxDistanceMeters: 500000,
		Limit:             1,
	})
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.False(t, capped[0].IsActive, "inactive reports are returned when not filtered")
}

func TestMemoryReportRepository_UpdateKeepsSpeciesInvariant(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()
	created, err := repo.Create(ctx, memReport(1, 1, true))
	require.NoError(t, err)

	species := "Seal"
	updated, err := repo.Update(ctx, created.ID, model.ReportPatch{Species: &species})
	require.NoError(t, err)
	assert.Equal(t, model.Pollution{}, updated.Body)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, err = repo.Update(ctx, uuid.New(), model.ReportPatch{Species: &species})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReportRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()
	url := "https://example.com/a.jpg"
	r := memReport(1, 1, true)
	r.ImageURL = &url

	created, err := repo.Create(ctx, r)
	require.NoError(t, err)
	*created.ImageURL = "mutated"
	created.Title = "mutated"

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", stored.Title)
	assert.Equal(t, url, *stored.ImageURL)
}

func TestMemoryReportRepository_ConcurrentCreates(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, memReport(1, 1, true))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reports, err := repo.Find(ctx, model.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 50)
	for i := 1; i < len(reports); i++ {
		assert.True(t, reports[i-1].CreatedAt.After(reports[i].CreatedAt))
	}
}

func TestMemoryReportRepository_Delete(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()
	created, err := repo.Create(ctx, memReport(1, 1, true))
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryReportRepository_ToggleActive(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, memReport(0, 0, true))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ToggleActive(ctx, created.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive, "an even number of flips restores the state")
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))

	_, err = repo.ToggleActive(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
