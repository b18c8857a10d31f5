package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/feature"
)

func newTestFeature() *Feature {
	return &Feature{refMap: make(map[string]feature.RefData)}
}

func TestRenderRowsAssignsSequentialRefs(t *testing.T) {
	f := newTestFeature()
	rows := []labeledNode{
		{Role: "button", Name: "Submit"},
		{Role: "textbox", Name: "Email"},
	}

	text := f.renderRowsAndStoreRefMap("=== SNAPSHOT ===", rows)
	require.Contains(t, text, "[ref=e1]")
	require.Contains(t, text, "[ref=e2]")

	refMap := f.GetRefMap()
	require.Equal(t, "button", refMap["e1"].Role)
	require.Equal(t, "Submit", refMap["e1"].Name)
	require.Equal(t, "textbox", refMap["e2"].Role)
}

func TestRenderRowsReplacesPriorRefMap(t *testing.T) {
	f := newTestFeature()
	f.renderRowsAndStoreRefMap("=== SNAPSHOT ===", []labeledNode{{Role: "link", Name: "Old"}})
	require.Len(t, f.GetRefMap(), 1)

	f.renderRowsAndStoreRefMap("=== SNAPSHOT ===", []labeledNode{})
	require.Empty(t, f.GetRefMap())
}

func TestGetRefMapReturnsACopy(t *testing.T) {
	f := newTestFeature()
	f.renderRowsAndStoreRefMap("=== SNAPSHOT ===", []labeledNode{{Role: "button", Name: "Go"}})

	snapshot1 := f.GetRefMap()
	delete(snapshot1, "e1")

	snapshot2 := f.GetRefMap()
	require.Contains(t, snapshot2, "e1")
}

func TestHandlerUnknownCommandReturnsFalse(t *testing.T) {
	f := newTestFeature()
	_, ok := f.Handler("doesNotExist")
	require.False(t, ok)
}
