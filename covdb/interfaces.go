package covdb

import (
	"context"
)

// TxOptions selects the kind of database transaction to open.
type TxOptions interface {
	// ReadOnly reports whether the transaction only reads.
	ReadOnly() bool
}

// BatchedTx runs a group of queries of type Q inside one database
// transaction.
type BatchedTx[Q any, O TxOptions] interface {
	// ExecTx runs txBody on Q within a single transaction. The
	// transaction is rolled back if txBody fails.
	ExecTx(ctx context.Context, txOptions O, txBody func(Q) error) error
}

// Tx is an open database transaction.
type Tx interface {
	Commit() error

	// Rollback aborts the transaction. Calling it after Commit is a
	// no-op.
	Rollback() error
}

// QueryCreator binds a query set to an open transaction.
type QueryCreator[Q any] func(Tx) Q

// BatchedQuerier is a Querier that can also open transactions.
type BatchedQuerier[O TxOptions] interface {
	Querier

	BeginTx(ctx context.Context, options O) (Tx, error)
}

// TransactionExecutor implements BatchedTx for any query set Query that a
// QueryCreator can bind to the transactions of a BatchedQuerier.
type TransactionExecutor[Query any, TxOpts TxOptions] struct {
	BatchedQuerier[TxOpts]

	createQuery QueryCreator[Query]
}

// NewTransactionExecutor creates a TransactionExecutor on top of db.
func NewTransactionExecutor[Querier any, TxOpts TxOptions](
	db BatchedQuerier[TxOpts],
	createQuery QueryCreator[Querier]) *TransactionExecutor[Querier, TxOpts] {

	return &TransactionExecutor[Querier, TxOpts]{
		BatchedQuerier: db,
		createQuery:    createQuery,
	}
}

// ExecTx opens a transaction, runs txBody on it and commits.
func (t *TransactionExecutor[Q, O]) ExecTx(ctx context.Context, txOptions O,
	txBody func(Q) error) error {

	tx, err := t.BatchedQuerier.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		return err
	}

	return tx.Commit()
}
