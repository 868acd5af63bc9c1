package covdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"golang.org/x/exp/constraints"
)

var (
	// ErrLineageNotFound is returned when a lineage is unknown.
	ErrLineageNotFound = errors.New("lineage not found")

	// ErrLineageExists is returned when creating a lineage under a name
	// that is taken.
	ErrLineageExists = errors.New("lineage already exists")

	// ErrGenerationConflict is returned when a generation does not extend
	// the current tip of its lineage.
	ErrGenerationConflict = errors.New("generation does not extend tip")
)

// SpendPath is how a generation's predecessor was spent.
type SpendPath uint8

const (
	// SpendFunding marks generation zero, created by funding the covenant
	// address.
	SpendFunding SpendPath = iota

	// SpendScriptPath marks a generation created through the covenant
	// leaf.
	SpendScriptPath

	// SpendKeyPath marks the output a covenant was released to through
	// the key path. It ends the lineage.
	SpendKeyPath
)

func (s SpendPath) String() string {
	switch s {
	case SpendFunding:
		return "funding"
	case SpendScriptPath:
		return "script_path"
	case SpendKeyPath:
		return "key_path"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Lineage is a covenant together with the asset it keeps locked.
type Lineage struct {
	// Name identifies the lineage.
	Name string

	// Descriptor describes the covenant.
	Descriptor *covscript.Descriptor

	// Asset is the locked asset.
	Asset elwire.AssetID

	// Amount is the locked amount.
	Amount uint64

	// CreatedAt is when the lineage was created.
	CreatedAt time.Time
}

// Generation is an output a lineage lived in.
type Generation struct {
	// Number is zero for the funding output and increments with every
	// spend.
	Number uint32

	// OutPoint is the output.
	OutPoint wire.OutPoint

	// SpendPath is how the previous generation was spent.
	SpendPath SpendPath

	// RawTx is the serialized transaction that created the output, if
	// known.
	RawTx []byte

	// CreatedAt is when the generation was recorded.
	CreatedAt time.Time
}

// JournalStore is the subset of queries the journal needs.
type JournalStore interface {
	Querier
}

// JournalTxOptions defines the set of db txn options the journal
// understands.
type JournalTxOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
func (j *JournalTxOptions) ReadOnly() bool {
	return j.readOnly
}

// NewJournalReadTx creates a new read transaction option set.
func NewJournalReadTx() JournalTxOptions {
	return JournalTxOptions{
		readOnly: true,
	}
}

// BatchedJournalStore combines the JournalStore interface with the
// BatchedTx interface, allowing for multiple queries to be executed in a
// single SQL transaction.
type BatchedJournalStore interface {
	JournalStore

	BatchedTx[JournalStore, TxOptions]
}

// Journal records covenant lineages and their generations.
type Journal struct {
	db BatchedJournalStore
}

// NewJournal creates a journal backed by db.
func NewJournal(db BatchedJournalStore) *Journal {
	return &Journal{
		db: db,
	}
}

// NewSqliteJournal creates a journal on top of a sqlite store.
func NewSqliteJournal(store *SqliteStore) *Journal {
	txCreator := func(tx Tx) JournalStore {
		return store.WithTx(tx.(*sql.Tx))
	}

	return NewJournal(&sqliteJournal{
		JournalStore: store,
		TransactionExecutor: NewTransactionExecutor[JournalStore,
			TxOptions](store, txCreator),
	})
}

type sqliteJournal struct {
	JournalStore

	*TransactionExecutor[JournalStore, TxOptions]
}

// sqlInt32 turns an unsigned number into the int32 the tables store.
func sqlInt32[T constraints.Integer](num T) int32 {
	return int32(num)
}

// CreateLineage stores a new lineage together with its funding output.
func (j *Journal) CreateLineage(ctx context.Context, lineage *Lineage,
	funding *Generation) error {

	var descriptor bytes.Buffer
	if err := lineage.Descriptor.Encode(&descriptor); err != nil {
		return err
	}

	writeOpts := &JournalTxOptions{}
	return j.db.ExecTx(ctx, writeOpts, func(q JournalStore) error {
		_, err := q.FetchLineage(ctx, lineage.Name)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %v", ErrLineageExists,
				lineage.Name)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		lineageID, err := q.InsertLineage(ctx, NewLineageRow{
			Name:       lineage.Name,
			Network:    lineage.Descriptor.Network,
			AssetID:    lineage.Asset.ScriptBytes(),
			Amount:     int64(lineage.Amount),
			Descriptor: descriptor.Bytes(),
			CreatedAt:  lineage.CreatedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("unable to insert lineage: %w", err)
		}

		return q.InsertGeneration(ctx, generationRow(
			lineageID, &Generation{
				Number:    0,
				OutPoint:  funding.OutPoint,
				SpendPath: SpendFunding,
				RawTx:     funding.RawTx,
				CreatedAt: funding.CreatedAt,
			},
		))
	})
}

func generationRow(lineageID int64, g *Generation) GenerationRow {
	return GenerationRow{
		LineageID:   lineageID,
		Generation:  sqlInt32(g.Number),
		Txid:        g.OutPoint.Hash[:],
		OutputIndex: sqlInt32(g.OutPoint.Index),
		SpendPath:   int16(g.SpendPath),
		RawTx:       g.RawTx,
		CreatedAt:   g.CreatedAt.UTC(),
	}
}

func parseGeneration(row GenerationRow) (*Generation, error) {
	txid, err := chainhash.NewHash(row.Txid)
	if err != nil {
		return nil, err
	}

	return &Generation{
		Number: uint32(row.Generation),
		OutPoint: wire.OutPoint{
			Hash:  *txid,
			Index: uint32(row.OutputIndex),
		},
		SpendPath: SpendPath(row.SpendPath),
		RawTx:     row.RawTx,
		CreatedAt: row.CreatedAt,
	}, nil
}

func parseLineage(row LineageRow) (*Lineage, error) {
	descriptor, err := covscript.DecodeDescriptor(row.Descriptor)
	if err != nil {
		return nil, err
	}
	asset, err := elwire.AssetIDFromScriptBytes(row.AssetID)
	if err != nil {
		return nil, err
	}

	return &Lineage{
		Name:       row.Name,
		Descriptor: descriptor,
		Asset:      asset,
		Amount:     uint64(row.Amount),
		CreatedAt:  row.CreatedAt,
	}, nil
}

func fetchLineage(ctx context.Context, q JournalStore,
	name string) (LineageRow, error) {

	row, err := q.FetchLineage(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %v", ErrLineageNotFound, name)
	}
	return row, err
}

// FetchLineage returns the lineage stored under name.
func (j *Journal) FetchLineage(ctx context.Context,
	name string) (*Lineage, error) {

	var lineage *Lineage
	readOpts := NewJournalReadTx()
	err := j.db.ExecTx(ctx, &readOpts, func(q JournalStore) error {
		row, err := fetchLineage(ctx, q, name)
		if err != nil {
			return err
		}

		lineage, err = parseLineage(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return lineage, nil
}

// ListLineages returns all lineages ordered by name.
func (j *Journal) ListLineages(ctx context.Context) ([]*Lineage, error) {
	var lineages []*Lineage
	readOpts := NewJournalReadTx()
	err := j.db.ExecTx(ctx, &readOpts, func(q JournalStore) error {
		rows, err := q.AllLineages(ctx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			lineage, err := parseLineage(row)
			if err != nil {
				return err
			}
			lineages = append(lineages, lineage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return lineages, nil
}

// AddGeneration appends a generation to a lineage. It must directly follow
// the current tip, and nothing may follow a key path release.
func (j *Journal) AddGeneration(ctx context.Context, name string,
	g *Generation) error {

	writeOpts := &JournalTxOptions{}
	return j.db.ExecTx(ctx, writeOpts, func(q JournalStore) error {
		lineage, err := fetchLineage(ctx, q, name)
		if err != nil {
			return err
		}

		tip, err := q.FetchTip(ctx, lineage.LineageID)
		if err != nil {
			return fmt.Errorf("unable to fetch tip: %w", err)
		}

		switch {
		case SpendPath(tip.SpendPath) == SpendKeyPath:
			return fmt.Errorf("%w: lineage %v was released",
				ErrGenerationConflict, name)

		case int64(g.Number) != int64(tip.Generation)+1:
			return fmt.Errorf("%w: tip is %d, got %d",
				ErrGenerationConflict, tip.Generation,
				g.Number)
		}

		log.Debugf("Lineage %v: generation %d at %v (%v)", name,
			g.Number, g.OutPoint, g.SpendPath)

		return q.InsertGeneration(
			ctx, generationRow(lineage.LineageID, g),
		)
	})
}

// Tip returns the latest generation of a lineage.
func (j *Journal) Tip(ctx context.Context, name string) (*Generation,
	error) {

	var tip *Generation
	readOpts := NewJournalReadTx()
	err := j.db.ExecTx(ctx, &readOpts, func(q JournalStore) error {
		lineage, err := fetchLineage(ctx, q, name)
		if err != nil {
			return err
		}

		row, err := q.FetchTip(ctx, lineage.LineageID)
		if err != nil {
			return err
		}

		tip, err = parseGeneration(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return tip, nil
}

// Generations returns every generation of a lineage, oldest first.
func (j *Journal) Generations(ctx context.Context,
	name string) ([]*Generation, error) {

	var generations []*Generation
	readOpts := NewJournalReadTx()
	err := j.db.ExecTx(ctx, &readOpts, func(q JournalStore) error {
		lineage, err := fetchLineage(ctx, q, name)
		if err != nil {
			return err
		}

		rows, err := q.FetchGenerations(ctx, lineage.LineageID)
		if err != nil {
			return err
		}

		for _, row := range rows {
			g, err := parseGeneration(row)
			if err != nil {
				return err
			}
			generations = append(generations, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return generations, nil
}
