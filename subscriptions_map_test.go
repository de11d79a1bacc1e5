package gobayeux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionsMap(t *testing.T) {
	sm := newSubscriptionsMap()
	recv := make(chan []Message)

	require.NoError(t, sm.Add("/foo/bar", recv))
	assert.Error(t, sm.Add("/foo/bar", recv))

	event := []Message{{Channel: "/foo/bar", ID: "1"}}
	assert.Equal(t, map[chan []Message][]Message{recv: event}, sm.Route(event))

	sm.Remove("/foo/bar")
	assert.Empty(t, sm.Route(event))
	require.NoError(t, sm.Add("/foo/bar", recv))
}

func TestSubscriptionsMapRoute(t *testing.T) {
	sm := newSubscriptionsMap()
	exact := make(chan []Message)
	wildcard := make(chan []Message)
	require.NoError(t, sm.Add("/foo/bar", exact))
	require.NoError(t, sm.Add("/foo/*", wildcard))

	batches := sm.Route([]Message{
		{Channel: "/foo/bar", ID: "1"},
		{Channel: "/foo/baz", ID: "2"},
		{Channel: "/other", ID: "3"},
		{Channel: "/foo/bar", ID: "4"},
	})

	require.Len(t, batches, 2)
	assert.Equal(t, []Message{{Channel: "/foo/bar", ID: "1"}, {Channel: "/foo/bar", ID: "4"}}, batches[exact])
	ids := []string{}
	for _, m := range batches[wildcard] {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "4"}, ids)
}

func TestSubscriptionsMapRouteOverlappingPatterns(t *testing.T) {
	sm := newSubscriptionsMap()
	recv := make(chan []Message)
	require.NoError(t, sm.Add("/foo/*", recv))
	require.NoError(t, sm.Add("/foo/**", recv))
	require.NoError(t, sm.Add("/foo/bar", recv))

	batches := sm.Route([]Message{
		{Channel: "/foo/bar", ID: "1"},
		{Channel: "/foo/bar/baz", ID: "2"},
	})

	require.Len(t, batches, 1)
	assert.Equal(t, []Message{
		{Channel: "/foo/bar", ID: "1"},
		{Channel: "/foo/bar/baz", ID: "2"},
	}, batches[recv])
}

func TestClientStateClientID(t *testing.T) {
	cs := &clientState{}
	assert.Empty(t, cs.GetClientID())
	cs.SetClientID("abc")
	assert.Equal(t, "abc", cs.GetClientID())
}
