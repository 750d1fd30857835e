package connection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const connCols = `id, patient_id, external_connection_id, source_name,
	connected_at, last_synced_at, last_export_task_id, last_export_failure_reason`

func (r *repoPG) Create(ctx context.Context, conn *Connection) error {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO connections (
			id, patient_id, external_connection_id, source_name, connected_at
		) VALUES ($1,$2,$3,$4,$5)`,
		conn.ID, conn.PatientID, conn.ExternalConnectionID, conn.SourceName, conn.ConnectedAt,
	)
	return err
}

func (r *repoPG) GetByPatientAndExternalID(ctx context.Context, patientID uuid.UUID, externalConnectionID string) (*Connection, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+connCols+`
		FROM connections
		WHERE patient_id = $1 AND external_connection_id = $2`,
		patientID, externalConnectionID,
	)
	return scanConnection(row)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Connection, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+connCols+`
		FROM connections
		WHERE patient_id = $1
		ORDER BY connected_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (r *repoPG) ListByExternalID(ctx context.Context, externalConnectionID string) ([]*Connection, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+connCols+`
		FROM connections
		WHERE external_connection_id = $1
		ORDER BY connected_at DESC`,
		externalConnectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (r *repoPG) RecordExportRequested(ctx context.Context, id uuid.UUID, taskID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE connections
		SET last_export_task_id = $2
		WHERE id = $1`,
		id, taskID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkSynced(ctx context.Context, id uuid.UUID, taskID string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE connections
		SET last_synced_at = $2,
		    last_export_task_id = $3,
		    last_export_failure_reason = NULL
		WHERE id = $1`,
		id, at, taskID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkExportFailed(ctx context.Context, id uuid.UUID, taskID, reason string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE connections
		SET last_export_task_id = $2,
		    last_export_failure_reason = $3
		WHERE id = $1`,
		id, taskID, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ExternalConnectionID, &c.SourceName,
		&c.ConnectedAt, &c.LastSyncedAt, &c.LastExportTaskID, &c.LastExportFailureReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConnections(rows pgx.Rows) ([]*Connection, error) {
	var out []*Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(
			&c.ID, &c.PatientID, &c.ExternalConnectionID, &c.SourceName,
			&c.ConnectedAt, &c.LastSyncedAt, &c.LastExportTaskID, &c.LastExportFailureReason,
		); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
