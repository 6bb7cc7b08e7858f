package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestSinkStoresSnapshots(t *testing.T) {
	t.Parallel()

	s := NewSink()
	ctx := context.Background()
	require.NoError(t, s.WriteResults(ctx, []crawler.ResultRecord{{URL: "a"}, {URL: "b"}}))
	require.NoError(t, s.WriteResults(ctx, []crawler.ResultRecord{{URL: "c"}}))
	require.NoError(t, s.WriteErrors(ctx, []crawler.ErrorRecord{{URL: "d"}}))

	results := s.Results()
	require.Len(t, results, 3)
	results[0].URL = "mutated"
	require.Equal(t, "a", s.Results()[0].URL, "snapshots are copies")
	require.Equal(t, 2, s.ResultBatches())
	require.Len(t, s.Errors(), 1)

	require.False(t, s.Closed())
	require.NoError(t, s.Close())
	require.True(t, s.Closed())
}
