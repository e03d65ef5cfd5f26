package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobKind tags a durable write job. The persistence workers dispatch on it.
type JobKind string

const (
	JobInsertOrder      JobKind = "insert_order"
	JobRecordExecution  JobKind = "record_execution"
	JobUpdateStatus     JobKind = "update_status"
	JobBrokerUpdate     JobKind = "broker_update"
	JobUpsertInstrument JobKind = "upsert_instrument"
)

// Job is a queued instruction to mutate the durable store. Jobs are applied
// asynchronously with at-most-once semantics: a failed job is logged and
// dropped, never retried. The payload fields used depend on Kind.
type Job struct {
	Kind JobKind

	Order      Order           // insert_order
	OrderID    string          // record_execution, update_status, broker_update
	Status     string          // update_status
	Price      decimal.Decimal // record_execution
	ExecutedAt time.Time       // record_execution
	Update     OrderUpdate     // broker_update
	Instrument Instrument      // upsert_instrument

	EnqueuedAt time.Time
}
