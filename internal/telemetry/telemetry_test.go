package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/config"
)

func TestParseHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{}, parseHeaders(""))
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc",
		"x-team":        "rover",
	}, parseHeaders("Authorization=Bearer abc, x-team=rover,broken"))
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), config.OTelConfig{ServiceName: "rover"})
	require.NoError(t, err)
	assert.Nil(t, tel)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
