package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:           "local",
		LogLevel:      "error",
		StoreDriver:   config.StoreDriverMemory,
		BatchSize:     5,
		SweepLimit:    50,
		ClinicName:    "Lakeside Clinic",
		PublicBaseURL: "http://localhost:8080",
		EmailProvider: notify.ProviderStub,
		SMSProvider:   notify.ProviderStub,
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logging.NewWithWriter(io.Discard, "error"))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &rebooking.MemoryRepository{}, a.Repo)
	assert.Nil(t, a.PgPool)
	assert.Nil(t, a.Redis)
	assert.NoError(t, a.Gateway.Validate())

	summary, err := a.Sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.UntreatedSlotsFound)

	a.Metrics.ObserveDispatch("direct", "processed")
	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_rebooking_dispatch_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNewKeepsMisconfiguredGateway(t *testing.T) {
	cfg := memoryConfig()
	cfg.EmailProvider = notify.ProviderSendGrid

	a, err := New(context.Background(), cfg, logging.NewWithWriter(io.Discard, "error"))
	require.NoError(t, err)

	var cfgErr *notify.ConfigError
	assert.ErrorAs(t, a.Gateway.Validate(), &cfgErr)
}
