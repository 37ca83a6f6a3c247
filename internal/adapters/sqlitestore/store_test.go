package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "paper-trader-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := New(Config{DBPath: dbPath, Logger: nopLogger{}})
	require.NoError(t, err)

	return s, func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestCreatePosition_DerivesQtyFromUSDT(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	sl := 95.0
	tp := 110.0
	pos, err := s.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol:    "BTCUSDT",
		Side:      domain.Long,
		SizeMode:  domain.SizeUSDT,
		SizeValue: 1000,
		Leverage:  1,
		SL:        &sl,
		TP:        &tp,
	}, 100.0, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos.Qty)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 0.4, pos.FeesOpen)
	require.NotNil(t, pos.SL)
	assert.Equal(t, 95.0, *pos.SL)

	events, err := s.ListEvents(context.Background(), &pos.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPositionCreated, events[0].Event)
}

func TestClosePosition_IsIdempotent(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	pos, err := s.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol: "ETHUSDT", Side: domain.Long, SizeMode: domain.SizeQty, SizeValue: 1, Leverage: 1,
	}, 2000, 0.8)
	require.NoError(t, err)

	closed, err := s.ClosePosition(context.Background(), pos.ID, 2100, 0.84, domain.EventTPTriggered)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.InDelta(t, 100-0.8-0.84, closed.RealizedPnl, 1e-9)

	again, err := s.ClosePosition(context.Background(), pos.ID, 2200, 0.88, domain.EventManualClose)
	require.NoError(t, err)
	assert.Nil(t, again)

	final, err := s.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2100.0, *final.ClosePrice)
}

func TestUpdateSLTP_RejectsClosedPosition(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	pos, err := s.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol: "BTCUSDT", Side: domain.Short, SizeMode: domain.SizeQty, SizeValue: 1, Leverage: 1,
	}, 100, 0.04)
	require.NoError(t, err)

	_, err = s.ClosePosition(context.Background(), pos.ID, 90, 0.036, domain.EventManualClose)
	require.NoError(t, err)

	newSL := 95.0
	_, err = s.UpdateSLTP(context.Background(), pos.ID, ports.SLTPPatch{SL: &newSL})
	assert.ErrorIs(t, err, ports.ErrConflict)
}

func TestDeletePosition_CascadesFillsAndEvents(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	pos, err := s.CreatePosition(context.Background(), ports.CreatePositionRequest{
		Symbol: "BTCUSDT", Side: domain.Long, SizeMode: domain.SizeQty, SizeValue: 1, Leverage: 1,
	}, 100, 0.04)
	require.NoError(t, err)

	ok, err := s.DeletePosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetPosition(context.Background(), pos.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	events, err := s.ListEvents(context.Background(), &pos.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSettings_SeededThenUpdated(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	d, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), d)

	newFee := 0.001
	updated, err := s.UpdateSettings(context.Background(), domain.SettingsPatch{TakerFee: &newFee})
	require.NoError(t, err)
	assert.Equal(t, 0.001, updated.TakerFee)
	assert.Equal(t, d.MakerFee, updated.MakerFee)
}
