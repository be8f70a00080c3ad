package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/internal/config"
	ragerr "github.com/lballaty/myragdb/internal/errors"
)

func TestNew_DefaultsToStatic(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingsConfig{}, 0)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "static", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNew_UnknownProviderRejected(t *testing.T) {
	_, err := New(context.Background(), config.EmbeddingsConfig{Provider: "openai"}, 0)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.GetCode(err))
}
