package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/state"
)

func TestNewLifecycleStartsStopped(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	require.False(t, l.Running())
	require.False(t, l.FeaturesInitialized())
	require.Nil(t, l.Page())
	require.Equal(t, "", l.CurrentURL())

	snap := l.StatusSnapshot()
	require.False(t, snap.Running)
	require.False(t, snap.HasPage)
	require.Nil(t, snap.URL)
}

func TestSetHeadlessNoopWhenValueUnchanged(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	result, err := l.SetHeadless(false) // DefaultConfig is already headless=false
	require.NoError(t, err)
	require.False(t, result.Restarted)
	require.False(t, result.PreviousValue)
}

func TestSetHeadlessWhenStoppedUpdatesConfigWithoutRestart(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	result, err := l.SetHeadless(true)
	require.NoError(t, err)
	require.False(t, result.Restarted, "nothing is running, so there is nothing to restart")
	require.False(t, result.PreviousValue)
	require.True(t, l.cfg.Headless)
}

func TestRecreateContextRequiresRunningBrowser(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	err := l.RecreateContext(ContextOptions{})
	require.Error(t, err)
}

func TestSessionIDRoundTrips(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	require.Equal(t, "", l.SessionID())
	l.SetSessionID("abc-123")
	require.Equal(t, "abc-123", l.SessionID())
}

func TestStartTimeIsStableAcrossReads(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	first := l.StartTime()
	second := l.StartTime()
	require.Equal(t, first, second)
}

func TestMarkFeaturesInitializedRequiresPage(t *testing.T) {
	withTempState(t)
	l := New(state.DefaultInstanceID, DefaultConfig(), nil)

	l.MarkFeaturesInitialized()
	require.False(t, l.FeaturesInitialized(), "guard must stay false while there is no page")
}
