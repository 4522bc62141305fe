package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/executor"
	"github.com/RafaUC/Allusion-sub000/internal/query"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

// retagBatchSize is how many files BulkRetag writes per transaction.
const retagBatchSize = 500

// RetagProgress reports how many files a bulk retag has written.
type RetagProgress func(done, total int)

// GetFile returns one file.
func (s *Service) GetFile(ctx context.Context, id string) (*database.File, error) {
	return s.db.GetFile(ctx, id)
}

// GetFiles returns files in the order of ids, skipping unknown ids.
func (s *Service) GetFiles(ctx context.Context, ids []string) ([]database.File, error) {
	return s.db.GetFiles(ctx, ids)
}

// AddTags tags every file with every tag.
func (s *Service) AddTags(ctx context.Context, fileIDs, tagIDs []string) error {
	if err := s.checkTags(tagIDs); err != nil {
		return err
	}
	if len(fileIDs) == 0 || len(tagIDs) == 0 {
		return nil
	}
	if err := s.db.AddFileTags(ctx, fileIDs, tagIDs); err != nil {
		return err
	}
	s.counts.MarkDirty(tagIDs...)
	s.counts.MarkGlobalsDirty(aggregate.Untagged)
	s.notify(ChangeFiles, fileIDs...)
	return nil
}

// RemoveTags removes every tag from every file.
func (s *Service) RemoveTags(ctx context.Context, fileIDs, tagIDs []string) error {
	if len(fileIDs) == 0 || len(tagIDs) == 0 {
		return nil
	}
	if err := s.db.RemoveFileTags(ctx, fileIDs, tagIDs); err != nil {
		return err
	}
	s.counts.MarkDirty(tagIDs...)
	s.counts.MarkGlobalsDirty(aggregate.Untagged)
	s.notify(ChangeFiles, fileIDs...)
	return nil
}

// BulkRetag adds and removes tags on every file matching criteria. Files
// are written in batches; cancelling ctx stops between batches and the
// number of files already written is returned with the error.
func (s *Service) BulkRetag(ctx context.Context, criteria *query.Group, add, remove []string, progress RetagProgress) (int, error) {
	if err := s.checkTags(add); err != nil {
		return 0, err
	}
	ids, err := s.matchingIDs(ctx, criteria)
	if err != nil {
		return 0, err
	}

	done := 0
	defer func() {
		if done > 0 {
			s.counts.MarkDirty(append(slices.Clone(add), remove...)...)
			s.counts.MarkGlobalsDirty(aggregate.Untagged)
			s.notify(ChangeFiles)
		}
	}()

	for batch := range slices.Chunk(ids, retagBatchSize) {
		if err := ctx.Err(); err != nil {
			s.log.Warn("Bulk retag cancelled after %d of %d files", done, len(ids))
			return done, err
		}
		err := s.db.WithTx(ctx, func(tx *database.Tx) error {
			if err := tx.AddFileTags(ctx, batch, add); err != nil {
				return err
			}
			return tx.RemoveFileTags(ctx, batch, remove)
		})
		if err != nil {
			return done, fmt.Errorf("failed to retag files: %w", err)
		}
		done += len(batch)
		if progress != nil {
			progress(done, len(ids))
		}
	}
	s.log.Info("Retagged %d files (+%d/-%d tags)", done, len(add), len(remove))
	return done, nil
}

// matchingIDs collects the ids of every file matching criteria, in id
// order. The scan must finish before any write starts.
func (s *Service) matchingIDs(ctx context.Context, criteria *query.Group) ([]string, error) {
	if criteria == nil {
		criteria = query.All()
	}
	p, err := executor.Compile(s.compiler, criteria)
	if err != nil {
		return nil, err
	}
	var ids []string
	req := database.ScanRequest{Index: p.Index, Order: database.Order{Key: "id"}}
	err = s.db.ScanFiles(ctx, req, func(r database.Row) error {
		if p.Filter == nil || p.Filter(&r.File) {
			ids = append(ids, r.File.ID)
		}
		return nil
	})
	return ids, err
}

// SetPropertyValue stores a file's value for an extra property. The value
// must match the property's declared type.
func (s *Service) SetPropertyValue(ctx context.Context, fileID, propertyID string, value any) error {
	typ, ok := s.props.PropertyType(propertyID)
	if !ok {
		return fmt.Errorf("extra property %s: %w", propertyID, database.ErrNotFound)
	}
	switch typ {
	case database.PropertyNumber:
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidValue, propertyID, value)
		}
	case database.PropertyText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s expects text, got %T", ErrInvalidValue, propertyID, value)
		}
	}
	if err := s.db.SetPropertyValue(ctx, fileID, propertyID, value); err != nil {
		return err
	}
	s.notify(ChangeFiles, fileID)
	return nil
}

// RemovePropertyValue clears a file's value for an extra property.
func (s *Service) RemovePropertyValue(ctx context.Context, fileID, propertyID string) error {
	if err := s.db.RemovePropertyValue(ctx, fileID, propertyID); err != nil {
		return err
	}
	s.notify(ChangeFiles, fileID)
	return nil
}

func (s *Service) checkTags(ids []string) error {
	var missing []error
	for _, id := range ids {
		if id == taggraph.RootID || !s.graph.Has(id) {
			missing = append(missing, fmt.Errorf("%w: %s", taggraph.ErrNotFound, id))
		}
	}
	return errors.Join(missing...)
}
