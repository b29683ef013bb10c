package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"crypto-backtester/internal/models"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))

	logger := FromContext(ctx)
	logger.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// a context without a logger discards output
	nop := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
}

func TestFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRun(WithStrategy(WithSymbol(zerolog.New(&buf), "BTCUSDT.BINANCE"), "dual_ma"), "abc")
	logger.Info().Msg("tagged")

	out := buf.String()
	assert.Contains(t, out, `"symbol":"BTCUSDT.BINANCE"`)
	assert.Contains(t, out, `"strategy":"dual_ma"`)
	assert.Contains(t, out, `"run_id":"abc"`)
}

func TestLogTrade(t *testing.T) {
	var buf bytes.Buffer
	LogTrade(zerolog.New(&buf), models.Trade{TradeID: "7", OrderID: "3", Direction: models.DirectionShort, Price: 101.5, Volume: 2})

	out := buf.String()
	assert.Contains(t, out, `"event":"trade"`)
	assert.Contains(t, out, `"trade_id":"7"`)
	assert.Contains(t, out, `"direction":"SHORT"`)
}

func TestNewLoggerWithConfig_Quiet(t *testing.T) {
	logger := NewLoggerWithConfig(LogConfig{Level: "error"})
	assert.NotPanics(t, func() {
		logger.Info().Msg("dropped")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}
