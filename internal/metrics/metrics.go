// Package metrics exposes Prometheus instruments for the engine
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

var (
	LedgerBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_batches_total",
			Help: "Ledger batches applied, by outcome",
		},
		[]string{"result"},
	)

	LedgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Committed ledger postings, by transaction type and direction",
		},
		[]string{"type", "direction"},
	)

	LedgerBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_batch_duration_seconds",
			Help:    "Time spent applying a ledger batch including lock wait",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	LoanTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_transitions_total",
			Help: "Loan lifecycle transitions, by target status",
		},
		[]string{"status"},
	)

	DepositTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_transitions_total",
			Help: "Fixed deposit transitions, by target status",
		},
		[]string{"status"},
	)

	GoalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savings_goal_transitions_total",
			Help: "Savings goal transitions, by target status",
		},
		[]string{"status"},
	)

	InvestmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investment_transitions_total",
			Help: "Investment purchases, sales and revaluations, by product type and action",
		},
		[]string{"type", "action"},
	)

	CreditScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credit_score",
			Help:    "Distribution of computed credit scores",
			Buckets: prometheus.LinearBuckets(300, 50, 12),
		},
	)

	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduler job executions, by job and outcome",
		},
		[]string{"job", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests, by route pattern, method and status code",
		},
		[]string{"route", "method", "code"},
	)
)

// Result classifies an error into a low-cardinality label
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrBelowMinimumBalance):
		return "below_minimum_balance"
	case errors.Is(err, model.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, model.ErrAccountNotActive):
		return "account_not_active"
	case errors.Is(err, model.ErrDuplicatePosting), errors.Is(err, model.ErrAlreadyReversed):
		return "duplicate"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, model.ErrAccountNotFound), errors.Is(err, model.ErrTransactionNotFound):
		return "not_found"
	}
	return "error"
}
