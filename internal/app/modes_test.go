package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/config"
	"github.com/alanyoungcy/costsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildPipelineDefaultFeeSchedule(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	p := a.buildPipeline(&Dependencies{})
	require.NotNil(t, p.ingestor)
	require.NotNil(t, p.sim)

	// The built-in OKX tier table is in effect.
	assert.NoError(t, p.sim.SetParams(domain.SimulationParams{
		QuantityUSD: 100, Side: domain.SideBuy, FeeTier: "VIP3",
	}))
}

func TestBuildPipelineCustomFeeSchedule(t *testing.T) {
	cfg := config.Defaults()
	cfg.Fees.Tiers = map[string]config.FeeTierConfig{
		"FLAT": {MakerBps: 1, TakerBps: 2},
	}
	cfg.Params.FeeTier = "FLAT"
	a := New(&cfg, testLogger())

	p := a.buildPipeline(&Dependencies{})

	// A configured table replaces the built-in tiers entirely.
	err := p.sim.SetParams(domain.SimulationParams{
		QuantityUSD: 100, Side: domain.SideBuy, FeeTier: "VIP0",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownFeeTier)

	assert.NoError(t, p.sim.SetParams(domain.SimulationParams{
		QuantityUSD: 100, Side: domain.SideBuy, FeeTier: "FLAT",
	}))
}

func TestServerModeServesWithoutIngesting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.Defaults()
	cfg.Mode = "server"
	cfg.Server.Enabled = true
	cfg.Server.Port = port
	a := New(&cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServerMode(ctx, &Dependencies{}) }()

	var health struct {
		Status    string `json:"status"`
		FeedState string `json:"feed_state"`
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&health) == nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "ok", health.Status)
	// Server mode never dials the exchange.
	assert.Equal(t, "disconnected", health.FeedState)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected exit: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not shut down")
	}
}
