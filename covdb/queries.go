package covdb

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result,
		error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows,
		error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Querier is the set of queries on the journal tables.
type Querier interface {
	InsertLineage(ctx context.Context, arg NewLineageRow) (int64, error)
	FetchLineage(ctx context.Context, name string) (LineageRow, error)
	AllLineages(ctx context.Context) ([]LineageRow, error)
	InsertGeneration(ctx context.Context, arg GenerationRow) error
	FetchTip(ctx context.Context, lineageID int64) (GenerationRow, error)
	FetchGenerations(ctx context.Context,
		lineageID int64) ([]GenerationRow, error)
	FetchGenerationByTxid(ctx context.Context,
		txid []byte) (GenerationRow, error)
}

// Queries implements Querier on top of a database or a transaction.
type Queries struct {
	db DBTX
}

// NewQueries returns queries running on db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns queries running inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// NewLineageRow holds the columns of a new lineage.
type NewLineageRow struct {
	Name       string
	Network    string
	AssetID    []byte
	Amount     int64
	Descriptor []byte
	CreatedAt  time.Time
}

// LineageRow is a row of the lineages table.
type LineageRow struct {
	LineageID int64
	NewLineageRow
}

// GenerationRow is a row of the generations table.
type GenerationRow struct {
	LineageID   int64
	Generation  int32
	Txid        []byte
	OutputIndex int32
	SpendPath   int16
	RawTx       []byte
	CreatedAt   time.Time
}

const insertLineage = `
INSERT INTO lineages (
    name, network, asset_id, amount, descriptor, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6
) RETURNING lineage_id
`

func (q *Queries) InsertLineage(ctx context.Context,
	arg NewLineageRow) (int64, error) {

	row := q.db.QueryRowContext(ctx, insertLineage,
		arg.Name, arg.Network, arg.AssetID, arg.Amount, arg.Descriptor,
		arg.CreatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const lineageColumns = `
SELECT lineage_id, name, network, asset_id, amount, descriptor, created_at
FROM lineages
`

func scanLineage(scan func(...interface{}) error) (LineageRow, error) {
	var l LineageRow
	err := scan(
		&l.LineageID, &l.Name, &l.Network, &l.AssetID, &l.Amount,
		&l.Descriptor, &l.CreatedAt,
	)
	return l, err
}

func (q *Queries) FetchLineage(ctx context.Context,
	name string) (LineageRow, error) {

	row := q.db.QueryRowContext(
		ctx, lineageColumns+"WHERE name = $1", name,
	)
	return scanLineage(row.Scan)
}

func (q *Queries) AllLineages(ctx context.Context) ([]LineageRow, error) {
	rows, err := q.db.QueryContext(ctx, lineageColumns+"ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineageRow
	for rows.Next() {
		l, err := scanLineage(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertGeneration = `
INSERT INTO generations (
    lineage_id, generation, txid, output_index, spend_path, raw_tx,
    created_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
`

func (q *Queries) InsertGeneration(ctx context.Context,
	arg GenerationRow) error {

	_, err := q.db.ExecContext(ctx, insertGeneration,
		arg.LineageID, arg.Generation, arg.Txid, arg.OutputIndex,
		arg.SpendPath, arg.RawTx, arg.CreatedAt,
	)
	return err
}

const generationColumns = `
SELECT lineage_id, generation, txid, output_index, spend_path, raw_tx,
    created_at
FROM generations
`

func scanGeneration(scan func(...interface{}) error) (GenerationRow, error) {
	var g GenerationRow
	err := scan(
		&g.LineageID, &g.Generation, &g.Txid, &g.OutputIndex,
		&g.SpendPath, &g.RawTx, &g.CreatedAt,
	)
	return g, err
}

func (q *Queries) FetchTip(ctx context.Context,
	lineageID int64) (GenerationRow, error) {

	row := q.db.QueryRowContext(ctx, generationColumns+`
WHERE lineage_id = $1
ORDER BY generation DESC
LIMIT 1
`, lineageID)
	return scanGeneration(row.Scan)
}

func (q *Queries) FetchGenerations(ctx context.Context,
	lineageID int64) ([]GenerationRow, error) {

	rows, err := q.db.QueryContext(ctx, generationColumns+`
WHERE lineage_id = $1
ORDER BY generation
`, lineageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []GenerationRow
	for rows.Next() {
		g, err := scanGeneration(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queries) FetchGenerationByTxid(ctx context.Context,
	txid []byte) (GenerationRow, error) {

	row := q.db.QueryRowContext(
		ctx, generationColumns+"WHERE txid = $1", txid,
	)
	return scanGeneration(row.Scan)
}
