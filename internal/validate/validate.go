// Package validate gates every outgoing request. The predicates are pure and
// reject non-finite input; the parse helpers fail closed on empty or
// non-numeric operator text.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"segmentation-console/internal/common"
)

// ValidationError is returned when a candidate value fails its predicate.
// No network call is made once it is raised.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClusterCount reports whether v is an integer in [2, 10].
func ClusterCount(v float64) bool {
	return finite(v) && v == math.Trunc(v) && v >= common.MinClusterCount && v <= common.MaxClusterCount
}

// Income reports whether v is in (0, 200].
func Income(v float64) bool {
	return finite(v) && v > 0 && v <= common.MaxAnnualIncome
}

// SpendingScore reports whether v is in [1, 100].
func SpendingScore(v float64) bool {
	return finite(v) && v >= common.MinSpendingScore && v <= common.MaxSpendingScore
}

// Retrain checks the cluster count for a retrain request.
func Retrain(clusters float64) error {
	if !ClusterCount(clusters) {
		return &ValidationError{Field: "n_clusters", Value: formatFloat(clusters), Reason: common.ErrMsgClusterCountRange}
	}
	return nil
}

// Predict checks both customer attributes. Income is checked first.
func Predict(income, score float64) error {
	if !Income(income) {
		return &ValidationError{Field: "annual_income", Value: formatFloat(income), Reason: common.ErrMsgIncomeRange}
	}
	if !SpendingScore(score) {
		return &ValidationError{Field: "spending_score", Value: formatFloat(score), Reason: common.ErrMsgSpendingRange}
	}
	return nil
}

// ParseClusterCount parses operator text into a valid cluster count.
func ParseClusterCount(s string) (int, error) {
	v, err := parse("n_clusters", s)
	if err != nil {
		return 0, err
	}
	if err := Retrain(v); err != nil {
		return 0, err
	}
	return int(v), nil
}

// ParseIncome parses operator text into a valid annual income.
func ParseIncome(s string) (float64, error) {
	v, err := parse("annual_income", s)
	if err != nil {
		return 0, err
	}
	if !Income(v) {
		return 0, &ValidationError{Field: "annual_income", Value: s, Reason: common.ErrMsgIncomeRange}
	}
	return v, nil
}

// ParseSpendingScore parses operator text into a valid spending score.
func ParseSpendingScore(s string) (float64, error) {
	v, err := parse("spending_score", s)
	if err != nil {
		return 0, err
	}
	if !SpendingScore(v) {
		return 0, &ValidationError{Field: "spending_score", Value: s, Reason: common.ErrMsgSpendingRange}
	}
	return v, nil
}

func parse(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: field, Reason: "value is required"}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, &ValidationError{Field: field, Value: s, Reason: "not a number"}
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
