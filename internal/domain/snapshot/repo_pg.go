package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

const (
	defaultBatchSize = 50
	defaultTxTimeout = 60 * time.Second
)

type repoPG struct {
	pool      *pgxpool.Pool
	batchSize int
	txTimeout time.Duration
}

// NewRepo builds the postgres snapshot repository. batchSize bounds how many
// inserts go into one wire batch; txTimeout bounds the whole replace
// transaction. Zero values take the defaults.
func NewRepo(pool *pgxpool.Pool, batchSize int, txTimeout time.Duration) Repository {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &repoPG{pool: pool, batchSize: batchSize, txTimeout: txTimeout}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var snapshotTables = []string{
	"observation_snapshots",
	"medication_snapshots",
	"condition_snapshots",
	"encounter_snapshots",
}

func (r *repoPG) ReplaceForConnection(ctx context.Context, connectionID uuid.UUID, rows *RowSet) error {
	return db.RunInTx(ctx, r.pool, r.txTimeout, func(ctx context.Context) error {
		q := r.conn(ctx)
		for _, table := range snapshotTables {
			if _, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE connection_id = $1`, connectionID); err != nil {
				return err
			}
		}
		if err := r.insertObservations(ctx, rows.Observations); err != nil {
			return err
		}
		if err := r.insertMedications(ctx, rows.Medications); err != nil {
			return err
		}
		if err := r.insertConditions(ctx, rows.Conditions); err != nil {
			return err
		}
		return r.insertEncounters(ctx, rows.Encounters)
	})
}

// sendChunked queues one statement per row in fixed-size pgx batches. queue is
// called once per index in [0, n).
func (r *repoPG) sendChunked(ctx context.Context, n int, queue func(b *pgx.Batch, i int)) error {
	q := r.conn(ctx)
	for start := 0; start < n; start += r.batchSize {
		end := start + r.batchSize
		if end > n {
			end = n
		}
		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			queue(b, i)
		}
		if err := drainBatch(q.SendBatch(ctx, b), end-start); err != nil {
			return err
		}
	}
	return nil
}

func drainBatch(br pgx.BatchResults, n int) error {
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) insertObservations(ctx context.Context, rows []*ObservationSnapshot) error {
	return r.sendChunked(ctx, len(rows), func(b *pgx.Batch, i int) {
		row := rows[i]
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO observation_snapshots (id, connection_id, patient_id, code, display, value, unit, effective_at, raw)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			row.ID, row.ConnectionID, row.PatientID, row.Code, row.Display, row.Value, row.Unit, row.EffectiveAt, row.Raw,
		)
	})
}

func (r *repoPG) insertMedications(ctx context.Context, rows []*MedicationSnapshot) error {
	return r.sendChunked(ctx, len(rows), func(b *pgx.Batch, i int) {
		row := rows[i]
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO medication_snapshots (id, connection_id, patient_id, name, dosage, raw)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			row.ID, row.ConnectionID, row.PatientID, row.Name, row.Dosage, row.Raw,
		)
	})
}

func (r *repoPG) insertConditions(ctx context.Context, rows []*ConditionSnapshot) error {
	return r.sendChunked(ctx, len(rows), func(b *pgx.Batch, i int) {
		row := rows[i]
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO condition_snapshots (id, connection_id, patient_id, display, raw)
			VALUES ($1,$2,$3,$4,$5)`,
			row.ID, row.ConnectionID, row.PatientID, row.Display, row.Raw,
		)
	})
}

func (r *repoPG) insertEncounters(ctx context.Context, rows []*EncounterSnapshot) error {
	return r.sendChunked(ctx, len(rows), func(b *pgx.Batch, i int) {
		row := rows[i]
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO encounter_snapshots (id, connection_id, patient_id, type_display, reason, service_type, period_start, period_end, raw)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			row.ID, row.ConnectionID, row.PatientID, row.TypeDisplay, row.Reason, row.ServiceType, row.PeriodStart, row.PeriodEnd, row.Raw,
		)
	})
}

func (r *repoPG) countByPatient(ctx context.Context, table string, patientID uuid.UUID) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE patient_id = $1`, patientID).Scan(&total)
	return total, err
}

func (r *repoPG) ListObservationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ObservationSnapshot, int, error) {
	total, err := r.countByPatient(ctx, "observation_snapshots", patientID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, connection_id, patient_id, code, display, value, unit, effective_at, raw, created_at
		FROM observation_snapshots
		WHERE patient_id = $1
		ORDER BY effective_at DESC NULLS LAST, created_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ObservationSnapshot
	for rows.Next() {
		var s ObservationSnapshot
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.PatientID, &s.Code, &s.Display, &s.Value, &s.Unit, &s.EffectiveAt, &s.Raw, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListMedicationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationSnapshot, int, error) {
	total, err := r.countByPatient(ctx, "medication_snapshots", patientID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, connection_id, patient_id, name, dosage, raw, created_at
		FROM medication_snapshots
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MedicationSnapshot
	for rows.Next() {
		var s MedicationSnapshot
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.PatientID, &s.Name, &s.Dosage, &s.Raw, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListConditionsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConditionSnapshot, int, error) {
	total, err := r.countByPatient(ctx, "condition_snapshots", patientID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, connection_id, patient_id, display, raw, created_at
		FROM condition_snapshots
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ConditionSnapshot
	for rows.Next() {
		var s ConditionSnapshot
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.PatientID, &s.Display, &s.Raw, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListEncountersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*EncounterSnapshot, int, error) {
	total, err := r.countByPatient(ctx, "encounter_snapshots", patientID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, connection_id, patient_id, type_display, reason, service_type, period_start, period_end, raw, created_at
		FROM encounter_snapshots
		WHERE patient_id = $1
		ORDER BY period_start DESC NULLS LAST, created_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*EncounterSnapshot
	for rows.Next() {
		var s EncounterSnapshot
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.PatientID, &s.TypeDisplay, &s.Reason, &s.ServiceType, &s.PeriodStart, &s.PeriodEnd, &s.Raw, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}
