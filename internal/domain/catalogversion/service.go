package catalogversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/apperr"
	"github.com/ehr/refrange/internal/platform/logging"
)

type Service struct {
	repo   Repository
	source Source
}

func NewService(repo Repository, source Source) *Service {
	return &Service{repo: repo, source: source}
}

// Snapshot builds the current catalog snapshot.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	analyses, err := s.source.LoadAnalyses(ctx)
	if err != nil {
		return nil, apperr.NewStorageError("load analyses", 0, err)
	}
	params, err := s.source.LoadParameters(ctx, refrange.Filter{})
	if err != nil {
		return nil, apperr.NewStorageError("load catalog", 0, err)
	}
	return Build(params, analyses...), nil
}

// Check fingerprints the catalog and compares it with the latest version
// without writing anything.
func (s *Service) Check(ctx context.Context) (*CommitResult, error) {
	res, _, err := s.compare(ctx)
	return res, err
}

// Commit fingerprints the catalog and appends a new version when the hash
// differs from the latest one. Numbering is gapless: the ledger is locked
// for the duration of the transaction.
func (s *Service) Commit(ctx context.Context) (*CommitResult, error) {
	logger := logging.FromContext(ctx)

	var res *CommitResult
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Lock(ctx); err != nil {
			return err
		}
		r, v, err := s.compare(ctx)
		if err != nil {
			return err
		}
		res = r
		if !r.Changed {
			return nil
		}
		if err := s.repo.Create(ctx, v); err != nil {
			return err
		}
		res.Committed = true
		return nil
	})
	if err != nil {
		return nil, apperr.NewStorageError("commit catalog version", 0, err)
	}

	if res.Committed {
		logger.Info().Int("version", res.Version).Str("hash", res.Hash).
			Int("items", res.Items).Int("ranges", res.Ranges).Msg("catalog version committed")
	} else {
		logger.Info().Int("version", res.Version).Str("hash", res.Hash).Msg("catalog unchanged")
	}
	return res, nil
}

// compare returns the comparison against the latest version and, when the
// catalog changed, the version row that would be appended.
func (s *Service) compare(ctx context.Context) (*CommitResult, *CatalogVersion, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	hash, canonical, err := Fingerprint(snap)
	if err != nil {
		return nil, nil, err
	}
	items, ranges := snap.Counts()
	res := &CommitResult{Hash: hash, Items: items, Ranges: ranges}

	latest, err := s.repo.Latest(ctx)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, fmt.Errorf("load latest version: %w", err)
	}
	if latest != nil && latest.HashSHA256 == hash {
		res.Version = latest.VersionNumber
		return res, nil, nil
	}

	var prev *Snapshot
	v := &CatalogVersion{
		VersionNumber: 1,
		HashSHA256:    hash,
		ItemCount:     items,
		RangeCount:    ranges,
		Snapshot:      canonical,
	}
	if latest != nil {
		if prev, err = latest.DecodeSnapshot(); err != nil {
			return nil, nil, err
		}
		n := latest.VersionNumber
		v.VersionNumber = n + 1
		v.PreviousVersion = &n
	}
	v.DiffFromPrevious = Compare(prev, snap)

	res.Changed = true
	res.Version = v.VersionNumber
	res.Diff = v.DiffFromPrevious
	return res, v, nil
}

func (s *Service) Latest(ctx context.Context) (*CatalogVersion, error) {
	return s.repo.Latest(ctx)
}

func (s *Service) Get(ctx context.Context, number int) (*CatalogVersion, error) {
	if number < 1 {
		return nil, apperr.NewInputError("version", "version numbers start at 1")
	}
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*CatalogVersion, int, error) {
	return s.repo.List(ctx, limit, offset)
}
