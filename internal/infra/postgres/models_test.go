package postgres

import (
	"encoding/json"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestPlanModelRoundTrip(t *testing.T) {
	p := domain.EsimPlan{
		ID:              7,
		ProviderPlanID:  "EU-5GB-30D",
		Name:            "Europe",
		DataAllowanceMB: 5120,
		ValidityDays:    30,
		RetailPrice:     decimal.RequireFromString("29.90"),
		Countries:       []string{"DE", "FR"},
	}
	got := planFromDomain(p).toDomain()
	assert.Equal(t, p.Countries, got.Countries)
	assert.True(t, p.RetailPrice.Equal(got.RetailPrice))

	p.Countries = nil
	assert.Equal(t, []string{}, planFromDomain(p).toDomain().Countries)
}

func TestEsimModelKeepsMetadata(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := esimFromNew(domain.NewEsim{
		CompanyID:       1,
		EmployeeID:      2,
		PlanID:          3,
		ProviderOrderID: "B1",
		Status:          domain.StatusPending,
		PricePaid:       decimal.NewFromInt(10),
		Metadata:        json.RawMessage(`{"orderNo":"B1"}`),
	}, now)

	e := m.toDomain()
	assert.JSONEq(t, `{"orderNo":"B1"}`, string(e.Metadata))
	assert.Equal(t, domain.StatusPending, e.Status)
	assert.Equal(t, now, e.UpdatedAt)

	assert.Nil(t, esimFromNew(domain.NewEsim{}, now).toDomain().Metadata)
}

func TestUpdateColumnsOnlySetFields(t *testing.T) {
	now := time.Now()
	status := domain.StatusCancelled
	on := true

	cols := updateColumns(domain.EsimUpdate{Status: &status, AutoRenewEnabled: &on}, now)
	assert.Equal(t, map[string]any{
		"updated_at":         now,
		"status":             "cancelled",
		"auto_renew_enabled": true,
	}, cols)

	assert.Len(t, updateColumns(domain.EsimUpdate{}, now), 1)
}
