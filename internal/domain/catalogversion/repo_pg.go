package catalogversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/refrange/internal/platform/apperr"
	"github.com/ehr/refrange/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type versionRepoPG struct {
	pool *pgxpool.Pool
}

func NewVersionRepoPG(pool *pgxpool.Pool) Repository {
	return &versionRepoPG{pool: pool}
}

func (r *versionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const versionColumns = `id, version_number, hash_sha256, item_count, range_count,
	diff_from_previous, previous_version, created_at`

func (r *versionRepoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, fn)
}

func (r *versionRepoPG) Lock(ctx context.Context) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("lock catalog_version: no transaction in context")
	}
	_, err := r.conn(ctx).Exec(ctx, `LOCK TABLE catalog_version IN SHARE ROW EXCLUSIVE MODE`)
	return err
}

func (r *versionRepoPG) Latest(ctx context.Context) (*CatalogVersion, error) {
	return r.scanFull(r.conn(ctx).QueryRow(ctx,
		`SELECT `+versionColumns+`, snapshot FROM catalog_version ORDER BY version_number DESC LIMIT 1`))
}

func (r *versionRepoPG) GetByNumber(ctx context.Context, number int) (*CatalogVersion, error) {
	return r.scanFull(r.conn(ctx).QueryRow(ctx,
		`SELECT `+versionColumns+`, snapshot FROM catalog_version WHERE version_number = $1`, number))
}

func (r *versionRepoPG) List(ctx context.Context, limit, offset int) ([]*CatalogVersion, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM catalog_version`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+versionColumns+` FROM catalog_version ORDER BY version_number DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var versions []*CatalogVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		versions = append(versions, v)
	}
	return versions, total, rows.Err()
}

func (r *versionRepoPG) Create(ctx context.Context, v *CatalogVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	var diff []byte
	if v.DiffFromPrevious != nil {
		b, err := json.Marshal(v.DiffFromPrevious)
		if err != nil {
			return fmt.Errorf("marshal diff: %w", err)
		}
		diff = b
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO catalog_version (
			id, version_number, hash_sha256, item_count, range_count,
			snapshot, diff_from_previous, previous_version
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
		RETURNING created_at`,
		v.ID, v.VersionNumber, v.HashSHA256, v.ItemCount, v.RangeCount,
		[]byte(v.Snapshot), diff, v.PreviousVersion,
	).Scan(&v.CreatedAt)
	return err
}

func (r *versionRepoPG) scanFull(row pgx.Row) (*CatalogVersion, error) {
	var (
		v        CatalogVersion
		diff     []byte
		snapshot []byte
	)
	err := row.Scan(&v.ID, &v.VersionNumber, &v.HashSHA256, &v.ItemCount, &v.RangeCount,
		&diff, &v.PreviousVersion, &v.CreatedAt, &snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog version: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.Snapshot = snapshot
	if err := decodeDiff(&v, diff); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVersion(rows pgx.Rows) (*CatalogVersion, error) {
	var (
		v    CatalogVersion
		diff []byte
	)
	if err := rows.Scan(&v.ID, &v.VersionNumber, &v.HashSHA256, &v.ItemCount, &v.RangeCount,
		&diff, &v.PreviousVersion, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := decodeDiff(&v, diff); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeDiff(v *CatalogVersion, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var d Diff
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode diff of version %d: %w", v.VersionNumber, err)
	}
	v.DiffFromPrevious = &d
	return nil
}
