package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestReplaySource_PlaysCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	lines := []string{
		`{"type":"snapshot","symbol":"ETHUSDT","seq":100,"bids":[["10.00","5"]],"asks":[["10.05","3"]]}`,
		`not json`,
		`{"type":"add","symbol":"ETHUSDT","seq":101,"side":"bid","price":"10.01","size":"2"}`,
		``,
		`{"type":"reset"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	malformed := metrics.RecordsMalformedTotal.WithLabelValues("ETHUSDT")
	before := testutil.ToFloat64(malformed)

	src := NewReplaySource(path, "ETHUSDT", 0, quietLogger())
	require.NoError(t, src.RequestSnapshot(context.Background()))

	out := make(chan marketdata.FeedMessage, 16)
	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	var got []marketdata.FeedMessage
	for msg := range out {
		got = append(got, msg)
	}
	require.Len(t, got, 4)
	require.Equal(t, marketdata.SignalConnect, got[0].Signal)
	require.Equal(t, "snapshot", got[1].Record.Type)
	require.EqualValues(t, 101, *got[2].Record.Sequence)
	require.Equal(t, marketdata.SignalReset, got[3].Signal)
	require.Equal(t, before+1, testutil.ToFloat64(malformed))
}

func TestReplaySource_MissingFile(t *testing.T) {
	src := NewReplaySource(filepath.Join(t.TempDir(), "missing.jsonl"), "X", 0, quietLogger())
	err := src.Run(context.Background(), make(chan marketdata.FeedMessage, 1))
	require.ErrorIs(t, err, os.ErrNotExist)
}
