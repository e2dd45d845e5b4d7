package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func readSequences(t *testing.T, path string) []int64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var seqs []int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var got marketdata.BookUpdate
		require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
		seqs = append(seqs, got.Sequence)
	}
	require.NoError(t, sc.Err())
	return seqs
}

func TestSink_WritesOneLinePerUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "updates.jsonl")
	s, err := New(path)
	require.NoError(t, err)
	require.Equal(t, "jsonl", s.Name())
	require.FileExists(t, path)

	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, &marketdata.BookUpdate{ID: uuid.New(), Symbol: "BTCUSDT", Sequence: 1, Synced: true}))
	// visible before Close
	require.Equal(t, []int64{1}, readSequences(t, path))

	require.NoError(t, s.Publish(ctx, &marketdata.BookUpdate{ID: uuid.New(), Symbol: "BTCUSDT", Sequence: 2, Synced: true}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, []int64{1, 2}, readSequences(t, path))
}

func TestSink_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updates.jsonl")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Publish(context.Background(), &marketdata.BookUpdate{Symbol: "A", Sequence: 1}))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	require.NoError(t, second.Publish(context.Background(), &marketdata.BookUpdate{Symbol: "A", Sequence: 2}))
	require.NoError(t, second.Close())

	require.Equal(t, []int64{1, 2}, readSequences(t, path))
}

func TestSink_Errors(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)

	dir := t.TempDir()
	_, err = New(dir)
	require.ErrorContains(t, err, "open jsonl file")

	s, err := New(filepath.Join(dir, "x.jsonl"))
	require.NoError(t, err)
	require.Error(t, s.Publish(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Publish(ctx, &marketdata.BookUpdate{Symbol: "A"}), context.Canceled)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Publish(context.Background(), &marketdata.BookUpdate{Symbol: "A"}), ErrClosed)
}
