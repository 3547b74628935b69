package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
	"github.com/MadarauchiaM/rouzer3.0/internal/domain/model"
	mediasvc "github.com/MadarauchiaM/rouzer3.0/internal/services/media"
)

const uniqueViolation = "23505"

const mediaColumns = `id, kind, display_url, backend, primary_ref, preview_ref, square_preview_ref,
source_url, content_type, size_bytes, width, height, created_at, removed_at`

type MediaRepo struct {
	pool *pgxpool.Pool
}

func NewMediaRepo(pool *pgxpool.Pool) *MediaRepo {
	return &MediaRepo{pool: pool}
}

func (r *MediaRepo) FindByDigest(ctx context.Context, digest string) (*model.MediaAsset, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	asset, err := scanMediaAsset(r.pool.QueryRow(ctx, `
SELECT `+mediaColumns+`
FROM media_assets
WHERE id = $1
`, digest))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select media asset: %w", err)
	}
	return &asset, nil
}

// Create inserts the asset unless its digest is already stored, in which case
// it reports ErrDuplicateCreate and leaves the existing row alone.
func (r *MediaRepo) Create(ctx context.Context, asset model.MediaAsset) (model.MediaAsset, error) {
	if r.pool == nil {
		return model.MediaAsset{}, fmt.Errorf("postgres pool is nil")
	}

	primary, preview, square := refColumns(asset.Remote)
	createdAt := asset.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, `
INSERT INTO media_assets (
	id, kind, display_url, backend, primary_ref, preview_ref, square_preview_ref,
	source_url, content_type, size_bytes, width, height, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING
RETURNING created_at
`,
		asset.ID, string(asset.Kind), asset.DisplayURL, asset.Backend, primary, preview, square,
		asset.SourceURL, asset.ContentType, asset.SizeBytes, asset.Width, asset.Height, createdAt,
	).Scan(&asset.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.MediaAsset{}, mediasvc.ErrDuplicateCreate
		}
		return model.MediaAsset{}, fmt.Errorf("insert media asset: %w", err)
	}

	return asset, nil
}

// MarkRemoved keeps the first removal time when called again.
func (r *MediaRepo) MarkRemoved(ctx context.Context, id string, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE media_assets
SET kind = $2, removed_at = COALESCE(removed_at, $3)
WHERE id = $1
`, id, string(enums.MediaKindRemoved), at)
	if err != nil {
		return fmt.Errorf("mark media removed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mediasvc.ErrNotFound
	}
	return nil
}

func (r *MediaRepo) ListPurgeable(ctx context.Context, backend string, before time.Time, limit int) ([]model.MediaAsset, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+mediaColumns+`
FROM media_assets
WHERE backend = $1
  AND removed_at IS NOT NULL
  AND removed_at < $2
  AND purged_at IS NULL
ORDER BY removed_at ASC
LIMIT $3
`, backend, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list purgeable media: %w", err)
	}
	defer rows.Close()

	assets := make([]model.MediaAsset, 0)
	for rows.Next() {
		asset, err := scanMediaAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purgeable media: %w", err)
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate purgeable media: %w", rows.Err())
	}

	return assets, nil
}

// MarkPurged drops the blob refs of a removed asset. The row stays as a
// tombstone so the same content is still recognised.
func (r *MediaRepo) MarkPurged(ctx context.Context, id string, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	_, err := r.pool.Exec(ctx, `
UPDATE media_assets
SET primary_ref = NULL, preview_ref = NULL, square_preview_ref = NULL, purged_at = $2
WHERE id = $1 AND purged_at IS NULL
`, id, at)
	if err != nil {
		return fmt.Errorf("mark media purged: %w", err)
	}
	return nil
}

func scanMediaAsset(row pgx.Row) (model.MediaAsset, error) {
	var (
		asset                    model.MediaAsset
		kind                     string
		primary, preview, square *string
	)
	err := row.Scan(
		&asset.ID,
		&kind,
		&asset.DisplayURL,
		&asset.Backend,
		&primary,
		&preview,
		&square,
		&asset.SourceURL,
		&asset.ContentType,
		&asset.SizeBytes,
		&asset.Width,
		&asset.Height,
		&asset.CreatedAt,
		&asset.RemovedAt,
	)
	if err != nil {
		return model.MediaAsset{}, err
	}

	parsed, ok := enums.ParseMediaKind(kind)
	if !ok {
		return model.MediaAsset{}, fmt.Errorf("unknown media kind %q", kind)
	}
	asset.Kind = parsed
	asset.Remote = remoteRefs(primary, preview, square)
	return asset, nil
}

func refColumns(refs *model.RemoteRefs) (*string, *string, *string) {
	if refs == nil {
		return nil, nil, nil
	}
	return nullable(refs.PrimaryRef), nullable(refs.PreviewRef), nullable(refs.SquarePreviewRef)
}

func remoteRefs(primary, preview, square *string) *model.RemoteRefs {
	if primary == nil && preview == nil && square == nil {
		return nil
	}
	refs := &model.RemoteRefs{}
	if primary != nil {
		refs.PrimaryRef = *primary
	}
	if preview != nil {
		refs.PreviewRef = *preview
	}
	if square != nil {
		refs.SquarePreviewRef = *square
	}
	return refs
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// isDuplicate covers both the DO NOTHING path, which returns no row, and a
// unique violation raised by a concurrent insert.
func isDuplicate(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
