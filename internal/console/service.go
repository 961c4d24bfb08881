// Package console composes validation, the remote gateway and the history
// stores into the two operator actions. A failed action never leaves a
// partial history entry behind.
package console

import (
	"context"
	"errors"
	"time"

	"segmentation-console/internal/gateway"
	"segmentation-console/internal/model"
	"segmentation-console/internal/storage"
	"segmentation-console/internal/validate"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// History kinds, used as metric labels and event kinds.
const (
	KindRetrain     = "retrain"
	KindPredictions = "predictions"

	opPredict = "predict"
)

// Gateway is the subset of the remote client the service needs.
type Gateway interface {
	Retrain(ctx context.Context, req model.RetrainRequest) (model.RetrainResult, error)
	Predict(ctx context.Context, req model.PredictRequest) (model.PredictResult, error)
}

// MetricsInterface is satisfied by *metrics.Metrics.
type MetricsInterface interface {
	RemoteCall(op string, seconds float64)
	RemoteFailure(op, kind string)
	ValidationReject(op string)
	PersistenceError(history string)
	HistorySize(history string, n int)
	Silhouette(score float64)
	Cluster(cluster int)
}

// Event describes a change to one of the histories.
type Event struct {
	Kind   string `json:"kind"`
	Action string `json:"action"` // "append" or "clear"
	Entry  any    `json:"entry,omitempty"`
}

// Notifier receives history events after they are persisted. Publish is
// called while the history is still locked, so events for one kind arrive in
// commit order; implementations must not block or call back into the Service.
type Notifier interface {
	Publish(Event)
}

// Service runs the operator actions against one gateway and the two
// histories. It is safe for concurrent use once configured; call SetMetrics
// and SetNotifier before sharing it.
type Service struct {
	gw          Gateway
	retrains    *storage.History[model.RetrainHistoryEntry]
	predictions *storage.History[model.PredictionHistoryEntry]
	metrics     MetricsInterface
	notifier    Notifier
	now         func() time.Time
	newID       func() string
}

// New creates a service with no-op metrics and no notifier.
func New(gw Gateway, retrains *storage.History[model.RetrainHistoryEntry], predictions *storage.History[model.PredictionHistoryEntry]) *Service {
	s := &Service{
		gw:          gw,
		retrains:    retrains,
		predictions: predictions,
		metrics:     noopMetrics{},
		notifier:    nil,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
	s.reportSizes()
	return s
}

// SetMetrics installs m and reports the current history sizes to it.
// A nil m restores the no-op recorder.
func (s *Service) SetMetrics(m MetricsInterface) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
	s.reportSizes()
}

// SetNotifier installs n to receive every append and clear.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Retrain validates the cluster count, retrains the remote model and records
// the result at the head of the retrain history.
func (s *Service) Retrain(ctx context.Context, clusters float64) (model.RetrainHistoryEntry, error) {
	if err := validate.Retrain(clusters); err != nil {
		s.metrics.ValidationReject(KindRetrain)
		return model.RetrainHistoryEntry{}, err
	}

	req := model.RetrainRequest{ClusterCount: int(clusters)}
	start := time.Now()
	res, err := s.gw.Retrain(ctx, req)
	s.metrics.RemoteCall(KindRetrain, time.Since(start).Seconds())
	if err != nil {
		s.recordFailure(KindRetrain, err)
		return model.RetrainHistoryEntry{}, err
	}

	entry := model.RetrainHistoryEntry{
		ID:                    s.newID(),
		RequestedClusterCount: req.ClusterCount,
		Result:                res,
		CreatedAt:             s.now(),
	}
	err = s.retrains.AppendNotify(entry, func(entries []model.RetrainHistoryEntry) {
		s.metrics.HistorySize(KindRetrain, len(entries))
		s.publish(Event{Kind: KindRetrain, Action: "append", Entry: entry})
	})
	if err != nil {
		s.metrics.PersistenceError(KindRetrain)
		log.Error().Err(err).Int("clusters", req.ClusterCount).Msg("failed to persist retrain history")
		return model.RetrainHistoryEntry{}, err
	}

	if res.SilhouetteScore != nil {
		s.metrics.Silhouette(*res.SilhouetteScore)
	}

	ev := log.Info().Int("clusters", req.ClusterCount).Str("id", entry.ID)
	if res.SilhouetteScore != nil {
		ev = ev.Float64("silhouette", *res.SilhouetteScore)
	}
	ev.Msg("model retrained")

	return entry, nil
}

// Predict validates the customer attributes, classifies the customer and
// records the prediction at the head of the prediction history.
func (s *Service) Predict(ctx context.Context, income, score float64) (model.PredictionHistoryEntry, error) {
	if err := validate.Predict(income, score); err != nil {
		s.metrics.ValidationReject(opPredict)
		return model.PredictionHistoryEntry{}, err
	}

	req := model.PredictRequest{AnnualIncome: income, SpendingScore: score}
	start := time.Now()
	res, err := s.gw.Predict(ctx, req)
	s.metrics.RemoteCall(opPredict, time.Since(start).Seconds())
	if err != nil {
		s.recordFailure(opPredict, err)
		return model.PredictionHistoryEntry{}, err
	}

	entry := model.PredictionHistoryEntry{
		ID:            s.newID(),
		AnnualIncome:  income,
		SpendingScore: score,
		Cluster:       res.Cluster,
		CreatedAt:     s.now(),
	}
	err = s.predictions.AppendNotify(entry, func(entries []model.PredictionHistoryEntry) {
		s.metrics.HistorySize(KindPredictions, len(entries))
		s.publish(Event{Kind: KindPredictions, Action: "append", Entry: entry})
	})
	if err != nil {
		s.metrics.PersistenceError(KindPredictions)
		log.Error().Err(err).Msg("failed to persist prediction history")
		return model.PredictionHistoryEntry{}, err
	}

	s.metrics.Cluster(res.Cluster)

	log.Info().
		Float64("annual_income", income).
		Float64("spending_score", score).
		Int("cluster", res.Cluster).
		Msg("customer classified")

	return entry, nil
}

// RetrainHistory returns a snapshot of the retrain history, most recent first.
func (s *Service) RetrainHistory() []model.RetrainHistoryEntry {
	return s.retrains.List()
}

// PredictionHistory returns a snapshot of the prediction history, most recent first.
func (s *Service) PredictionHistory() []model.PredictionHistoryEntry {
	return s.predictions.List()
}

// ClearRetrainHistory deletes the persisted retrain history.
func (s *Service) ClearRetrainHistory() error {
	err := s.retrains.ClearNotify(func() {
		s.metrics.HistorySize(KindRetrain, 0)
		s.publish(Event{Kind: KindRetrain, Action: "clear"})
	})
	if err != nil {
		s.metrics.PersistenceError(KindRetrain)
		return err
	}
	log.Info().Msg("retrain history cleared")
	return nil
}

// ClearPredictionHistory deletes the persisted prediction history.
func (s *Service) ClearPredictionHistory() error {
	err := s.predictions.ClearNotify(func() {
		s.metrics.HistorySize(KindPredictions, 0)
		s.publish(Event{Kind: KindPredictions, Action: "clear"})
	})
	if err != nil {
		s.metrics.PersistenceError(KindPredictions)
		return err
	}
	log.Info().Msg("prediction history cleared")
	return nil
}

func (s *Service) recordFailure(op string, err error) {
	kind := "transport"
	if errors.Is(err, gateway.ErrRemote) {
		kind = "remote"
	}
	s.metrics.RemoteFailure(op, kind)
	log.Warn().Err(err).Str("op", op).Msg("remote call failed")
}

func (s *Service) publish(e Event) {
	if s.notifier != nil {
		s.notifier.Publish(e)
	}
}

func (s *Service) reportSizes() {
	s.metrics.HistorySize(KindRetrain, s.retrains.Len())
	s.metrics.HistorySize(KindPredictions, s.predictions.Len())
}

type noopMetrics struct{}

func (noopMetrics) RemoteCall(string, float64)   {}
func (noopMetrics) RemoteFailure(string, string) {}
func (noopMetrics) ValidationReject(string)      {}
func (noopMetrics) PersistenceError(string)      {}
func (noopMetrics) HistorySize(string, int)      {}
func (noopMetrics) Silhouette(float64)           {}
func (noopMetrics) Cluster(int)                  {}
