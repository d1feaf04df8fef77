package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

func TestRecorderObservesStages(t *testing.T) {
	r := NewRecorder()
	r.ObserveStage(context.Background(), offsync.StageTiming{
		Operation:  offsync.MetricsOpDrain,
		Stage:      offsync.MetricsStageRemote,
		EntityType: "dimension",
		Outcome:    offsync.OutcomeDelivered,
		Duration:   5 * time.Millisecond,
		Count:      1,
	})
	r.ObserveStage(context.Background(), offsync.StageTiming{
		Operation:  offsync.MetricsOpDrain,
		Stage:      offsync.MetricsStageRemote,
		EntityType: "dimension",
		Outcome:    offsync.OutcomeRetry,
		Error:      true,
	})

	require.Equal(t, 1.0, testutil.ToFloat64(r.items.WithLabelValues("drain", "remote_call", "dimension")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("drain", "remote_call", "dimension")))
	require.Equal(t, 2, testutil.CollectAndCount(r.duration))
}

func TestRecorderServesStats(t *testing.T) {
	r := NewRecorder()
	r.SetStats([]offsync.TypeStats{{
		EntityType: "invitation",
		Queued:     3,
		InFlight:   1,
		Retrying:   2,
		ByStatus:   map[string]int{"NEW": 2, "SYNCED": 5},
	}})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `offsync_queue_entries{entity_type="invitation",state="pending"} 2`)
	require.Contains(t, string(body), `offsync_records{entity_type="invitation",status="SYNCED"} 5`)
}
