package datastore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffClassifiesAddedDeletedChanged(t *testing.T) {
	var before = Tree{XPath: "/devices/device[n=x]/root", Data: json.RawMessage(`{"a":1,"b":2}`)}
	var after = Tree{XPath: "/devices/device[n=x]/root", Data: json.RawMessage(`{"a":1,"b":3,"c":4}`)}

	var delta, err = Diff(before, after, before.XPath)
	require.NoError(t, err)

	require.Len(t, delta.Added, 1)
	assert.Equal(t, before.XPath+"/c", delta.Added[0].XPath)

	require.Len(t, delta.ChangedBefore, 1)
	require.Len(t, delta.ChangedAfter, 1)
	assert.JSONEq(t, "2", string(delta.ChangedBefore[0].Data))
	assert.JSONEq(t, "3", string(delta.ChangedAfter[0].Data))

	assert.Empty(t, delta.Deleted)
}

func TestDiffClassifiesDeletion(t *testing.T) {
	var before = Tree{Data: json.RawMessage(`{"a":1,"b":2}`)}
	var after = Tree{Data: json.RawMessage(`{"a":1}`)}

	var delta, err = Diff(before, after, "")
	require.NoError(t, err)
	require.Len(t, delta.Deleted, 1)
	assert.Equal(t, "/b", delta.Deleted[0].XPath)
}

func TestDiffIdenticalTreesIsEmpty(t *testing.T) {
	var tree = Tree{Data: json.RawMessage(`{"a":1}`)}
	var delta, err = Diff(tree, tree, "")
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}
