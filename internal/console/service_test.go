package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"segmentation-console/internal/common"
	"segmentation-console/internal/gateway"
	"segmentation-console/internal/metrics"
	"segmentation-console/internal/model"
	"segmentation-console/internal/storage"
	"segmentation-console/internal/validate"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockGateway records calls and returns canned results.
type MockGateway struct {
	mu            sync.Mutex
	retrainCalls  int
	predictCalls  int
	retrainResult model.RetrainResult
	predictResult model.PredictResult
	err           error
}

func (m *MockGateway) Retrain(ctx context.Context, req model.RetrainRequest) (model.RetrainResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrainCalls++
	return m.retrainResult, m.err
}

func (m *MockGateway) Predict(ctx context.Context, req model.PredictRequest) (model.PredictResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictCalls++
	return m.predictResult, m.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	svc         *Service
	retrainSlot *storage.MemorySlot
	predictSlot *storage.MemorySlot
}

func newFixture(gw Gateway) fixture {
	rs := storage.NewMemorySlot(common.RetrainHistorySlot)
	ps := storage.NewMemorySlot(common.PredictionHistorySlot)
	svc := New(gw,
		storage.NewHistory[model.RetrainHistoryEntry](rs, common.RetrainHistoryCapacity),
		storage.NewHistory[model.PredictionHistoryEntry](ps, common.PredictionHistoryCapacity),
	)
	seq := 0
	svc.newID = func() string { seq++; return fmt.Sprintf("id-%d", seq) }
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, seq, 0, time.UTC) }
	return fixture{svc: svc, retrainSlot: rs, predictSlot: ps}
}

func TestRetrain_AppendsHeadEntry(t *testing.T) {
	gw := &MockGateway{}
	score := 0.65
	gw.retrainResult = model.RetrainResult{Message: "OK Silhouette Score=0.65", SilhouetteScore: &score}
	f := newFixture(gw)

	entry, err := f.svc.Retrain(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, "id-1", entry.ID)
	assert.Equal(t, 4, entry.RequestedClusterCount)
	assert.Equal(t, "OK Silhouette Score=0.65", entry.Result.Message)
	require.NotNil(t, entry.Result.SilhouetteScore)
	assert.Equal(t, 0.65, *entry.Result.SilhouetteScore)

	history := f.svc.RetrainHistory()
	require.Len(t, history, 1)
	assert.Equal(t, entry, history[0])
}

func TestRetrain_FullHistoryDropsOldest(t *testing.T) {
	gw := &MockGateway{retrainResult: model.RetrainResult{Message: "ok"}}
	f := newFixture(gw)

	for i := 0; i < common.RetrainHistoryCapacity; i++ {
		_, err := f.svc.Retrain(context.Background(), 3)
		require.NoError(t, err)
	}
	oldest := f.svc.RetrainHistory()[common.RetrainHistoryCapacity-1]

	latest, err := f.svc.Retrain(context.Background(), 5)
	require.NoError(t, err)

	history := f.svc.RetrainHistory()
	require.Len(t, history, common.RetrainHistoryCapacity)
	assert.Equal(t, latest.ID, history[0].ID)
	for _, e := range history {
		assert.NotEqual(t, oldest.ID, e.ID)
	}
}

func TestPredict_AppendsEntry(t *testing.T) {
	gw := &MockGateway{predictResult: model.PredictResult{Cluster: 2}}
	f := newFixture(gw)

	entry, err := f.svc.Predict(context.Background(), 50, 60)
	require.NoError(t, err)

	assert.Equal(t, 2, entry.Cluster)
	assert.Equal(t, 50.0, entry.AnnualIncome)
	assert.Equal(t, 60.0, entry.SpendingScore)
	assert.Equal(t, []model.PredictionHistoryEntry{entry}, f.svc.PredictionHistory())
}

func TestValidationFailure_NoRemoteCall(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(gw)

	_, err := f.svc.Retrain(context.Background(), 11)
	var verr *validate.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = f.svc.Retrain(context.Background(), 2.5)
	require.True(t, errors.As(err, &verr))

	_, err = f.svc.Predict(context.Background(), 0, 50)
	require.True(t, errors.As(err, &verr))

	_, err = f.svc.Predict(context.Background(), 50, 101)
	require.True(t, errors.As(err, &verr))

	assert.Equal(t, 0, gw.retrainCalls)
	assert.Equal(t, 0, gw.predictCalls)
	assert.Empty(t, f.svc.RetrainHistory())
	assert.Empty(t, f.svc.PredictionHistory())
}

func TestRemoteFailure_HistoryUntouched(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/retrain":
			w.Write([]byte(`{"message":"Model trained. Silhouette Score=0.7321"}`))
		case "/predict":
			w.Write([]byte(`{"cluster":1}`))
		}
	}))
	defer srv.Close()

	f := newFixture(gateway.New(srv.URL, 5*time.Second))
	_, err := f.svc.Retrain(context.Background(), 4)
	require.NoError(t, err)
	_, err = f.svc.Predict(context.Background(), 50, 60)
	require.NoError(t, err)

	retrains := f.svc.RetrainHistory()
	predictions := f.svc.PredictionHistory()

	fail.Store(true)
	_, err = f.svc.Retrain(context.Background(), 4)
	var remote *gateway.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 500, remote.Status)

	_, err = f.svc.Predict(context.Background(), 50, 60)
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 500, remote.Status)

	assert.Equal(t, retrains, f.svc.RetrainHistory())
	assert.Equal(t, predictions, f.svc.PredictionHistory())
	require.NotNil(t, retrains[0].Result.SilhouetteScore)
	assert.Equal(t, 0.7321, *retrains[0].Result.SilhouetteScore)
}

func TestPersistenceFailure_Propagates(t *testing.T) {
	gw := &MockGateway{predictResult: model.PredictResult{Cluster: 3}}
	f := newFixture(gw)
	f.predictSlot.WriteErr = errors.New("disk full")

	_, err := f.svc.Predict(context.Background(), 50, 60)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Empty(t, f.svc.PredictionHistory())
}

func TestClear(t *testing.T) {
	gw := &MockGateway{
		retrainResult: model.RetrainResult{Message: "ok"},
		predictResult: model.PredictResult{Cluster: 0},
	}
	f := newFixture(gw)
	notifier := &recordingNotifier{}
	f.svc.SetNotifier(notifier)

	_, err := f.svc.Retrain(context.Background(), 3)
	require.NoError(t, err)
	_, err = f.svc.Predict(context.Background(), 10, 10)
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearRetrainHistory())
	assert.Empty(t, f.svc.RetrainHistory())
	assert.Len(t, f.svc.PredictionHistory(), 1, "clearing one kind leaves the other alone")

	require.NoError(t, f.svc.ClearPredictionHistory())
	require.NoError(t, f.svc.ClearPredictionHistory())
	assert.Empty(t, f.svc.PredictionHistory())

	require.Len(t, notifier.events, 5)
	assert.Equal(t, Event{Kind: KindRetrain, Action: "clear"}, notifier.events[2])
	assert.Equal(t, "append", notifier.events[0].Action)
}

func TestMetricsAreRecorded(t *testing.T) {
	gw := &MockGateway{predictResult: model.PredictResult{Cluster: 4}}
	f := newFixture(gw)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	f.svc.SetMetrics(m)

	_, err := f.svc.Predict(context.Background(), 50, 60)
	require.NoError(t, err)
	_, err = f.svc.Predict(context.Background(), -1, 60)
	require.Error(t, err)

	gw.err = &gateway.TransportError{Op: "predict", Err: errors.New("refused")}
	_, err = f.svc.Predict(context.Background(), 50, 60)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("predict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationRejects.WithLabelValues("predict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteFailures.WithLabelValues("predict", "transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterAssigned.WithLabelValues("4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HistoryEntries.WithLabelValues(KindPredictions)))
}

func TestNotifier_EventsFollowCommitOrder(t *testing.T) {
	gw := &MockGateway{predictResult: model.PredictResult{Cluster: 1}}
	f := newFixture(gw)
	f.svc.newID = uuid.NewString
	n := &recordingNotifier{}
	f.svc.SetNotifier(n)

	const calls = 15
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Predict(context.Background(), 50, 60)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.events, calls)

	// the history is most recent first, so it is the event stream reversed
	history := f.svc.PredictionHistory()
	require.Len(t, history, calls)
	for i, e := range n.events {
		entry, ok := e.Entry.(model.PredictionHistoryEntry)
		require.True(t, ok)
		assert.Equal(t, history[calls-1-i].ID, entry.ID)
	}
}
