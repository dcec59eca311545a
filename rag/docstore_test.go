package rag

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()

	require.NoError(t, s.Put(ctx, []Chunk{{ID: "1", Content: "A"}, {ID: "2", Content: "B"}}))
	ch, err := s.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "B", ch.Content)

	_, err = s.Get(ctx, "3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentStore_ReplaceKeepsOrder(t *testing.T) {
	s := NewDocumentStore()
	s.Add(Chunk{ID: "1", Content: "A"}, Chunk{ID: "2", Content: "B"})
	s.Add(Chunk{ID: "1", Content: "A2"})

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "A2", all[0].Content)
	assert.Equal(t, "2", all[1].ID)
}

func TestDocumentStore_RejectsMissingID(t *testing.T) {
	err := NewDocumentStore().Put(context.Background(), []Chunk{{Source: "x"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDocumentStore_SaveLoad(t *testing.T) {
	s := NewDocumentStore()
	s.Add(Chunk{ID: "1", Content: "A", Source: "a", Page: 1, Offset: 4})

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))
	loaded, err := LoadDocumentStore(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.All(), loaded.All())
}

func TestDocumentStore_ChunkIDsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()
	s.Add(
		Chunk{ID: "a-1", DocumentID: "a"},
		Chunk{ID: "b-1", DocumentID: "b"},
		Chunk{ID: "a-2", DocumentID: "a"},
	)

	ids, err := s.ChunkIDs(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2"}, ids)

	require.NoError(t, s.Delete(ctx, []string{"a-1", "unknown"}))
	assert.Equal(t, 2, s.Len())
	_, err = s.Get(ctx, "a-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "b-1", s.All()[0].ID)
}
