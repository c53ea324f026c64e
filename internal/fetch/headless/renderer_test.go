package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewChromedpDefaultsNavigationTimeout(t *testing.T) {
	t.Parallel()

	r := NewChromedp(Config{}, nil)
	defer r.Close()
	require.Equal(t, 25*time.Second, r.cfg.NavigationTimeout)

	r2 := NewChromedp(Config{NavigationTimeout: time.Second}, nil)
	defer r2.Close()
	require.Equal(t, time.Second, r2.cfg.NavigationTimeout)
}

func TestNoopRendererAlwaysFails(t *testing.T) {
	t.Parallel()

	_, err := Noop{}.Render(context.Background(), "https://www.booli.se/bostad/1")
	require.ErrorIs(t, err, ErrDisabled)
}
