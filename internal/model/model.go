// Package model holds the request, result and history entry types shared by the
// gateway, the history stores and the console service.
package model

import "time"

// RetrainRequest asks the remote service to refit the model with ClusterCount clusters.
type RetrainRequest struct {
	ClusterCount int `json:"n_clusters"`
}

// PredictRequest describes a single customer to classify.
type PredictRequest struct {
	AnnualIncome  float64 `json:"annual_income"`
	SpendingScore float64 `json:"spending_score"`
}

// RetrainResult is the outcome of a retrain call. SilhouetteScore is derived from
// Message and is nil when the message carries no score.
type RetrainResult struct {
	Message         string   `json:"message"`
	SilhouetteScore *float64 `json:"silhouette_score,omitempty"`
}

// PredictResult is the cluster index assigned to a customer.
type PredictResult struct {
	Cluster int `json:"cluster"`
}

// RetrainHistoryEntry records one successful retrain.
type RetrainHistoryEntry struct {
	ID                    string        `json:"id"`
	RequestedClusterCount int           `json:"requestedClusterCount"`
	Result                RetrainResult `json:"result"`
	CreatedAt             time.Time     `json:"createdAt"`
}

// PredictionHistoryEntry records one successful prediction.
type PredictionHistoryEntry struct {
	ID            string    `json:"id"`
	AnnualIncome  float64   `json:"annualIncome"`
	SpendingScore float64   `json:"spendingScore"`
	Cluster       int       `json:"cluster"`
	CreatedAt     time.Time `json:"createdAt"`
}
