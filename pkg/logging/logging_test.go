package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf).With().Str("request_id", "r-1").Logger())

	FromContext(ctx).Info().Str("mode", "TEST").Msg("operating mode set")
	assert.Contains(t, buf.String(), `"request_id":"r-1"`)
	assert.Contains(t, buf.String(), `"mode":"TEST"`)

	// A context without a logger yields a usable, silent one.
	assert.NotPanics(t, func() {
		FromContext(context.Background()).Error().Msg("dropped")
	})
}
