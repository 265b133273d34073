package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"go.uber.org/zap"
)

// Snapshot is the persisted engine state. Save treats it as a partial update:
// only the records present are written.
type Snapshot struct {
	Version  int                          `json:"version"`
	Mastery  []*review.MasteryRecord      `json:"mastery,omitempty"`
	MetaData []*sediment.MetaData         `json:"meta_data,omitempty"`
	Votes    []*sediment.Vote             `json:"votes,omitempty"`
	Reports  []*sediment.ErrorReport      `json:"reports,omitempty"`
	Cache    []*synthesis.CachedSynthesis `json:"cache,omitempty"`
}

// Empty reports whether the snapshot carries no records.
func (s *Snapshot) Empty() bool {
	return len(s.Mastery) == 0 && len(s.MetaData) == 0 && len(s.Votes) == 0 &&
		len(s.Reports) == 0 && len(s.Cache) == 0
}

const (
	upsertMastery = `
		INSERT INTO mastery (learner_id, sense_id, level, last_reviewed, next_review,
			review_count, correct_count, avg_response_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (learner_id, sense_id) DO UPDATE SET
			level = EXCLUDED.level,
			last_reviewed = EXCLUDED.last_reviewed,
			next_review = EXCLUDED.next_review,
			review_count = EXCLUDED.review_count,
			correct_count = EXCLUDED.correct_count,
			avg_response_ms = EXCLUDED.avg_response_ms
		WHERE mastery.review_count IS NULL OR mastery.review_count <= EXCLUDED.review_count`

	upsertMetaData = `
		INSERT INTO meta_data (target_id, kind, upvotes, downvotes, reports, stability,
			first_discoverer, discovered_at, usage_count, updated_at, revision)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
		ON CONFLICT (target_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			upvotes = EXCLUDED.upvotes,
			downvotes = EXCLUDED.downvotes,
			reports = EXCLUDED.reports,
			stability = EXCLUDED.stability,
			first_discoverer = COALESCE(meta_data.first_discoverer, EXCLUDED.first_discoverer),
			discovered_at = COALESCE(meta_data.discovered_at, EXCLUDED.discovered_at),
			usage_count = EXCLUDED.usage_count,
			updated_at = EXCLUDED.updated_at,
			revision = EXCLUDED.revision
		WHERE meta_data.revision < EXCLUDED.revision`

	insertVote = `
		INSERT INTO votes (user_id, target_id, vote_type, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, target_id) DO NOTHING`

	insertReport = `
		INSERT INTO error_reports (id, user_id, target_id, category, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	upsertCache = `
		INSERT INTO synthesis_cache (key, input_ids, result, usage_count, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			input_ids = EXCLUDED.input_ids,
			result = EXCLUDED.result,
			usage_count = EXCLUDED.usage_count,
			last_used_at = EXCLUDED.last_used_at
		WHERE synthesis_cache.usage_count IS NULL OR synthesis_cache.usage_count <= EXCLUDED.usage_count`
)

// Save writes the records in snap in one transaction. Writers may race, so an
// upsert never replaces a row with an older one: meta data compares
// revisions, mastery compares review counts and cache entries compare usage
// counts.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Empty() {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range snap.Mastery {
		batch.Queue(upsertMastery, m.LearnerID, m.SenseID, m.Level, nullTime(m.LastReviewed),
			nullTime(m.NextReview), m.ReviewCount, m.CorrectCount, m.AvgResponseTime.Milliseconds())
	}
	for _, m := range snap.MetaData {
		batch.Queue(upsertMetaData, m.TargetID, string(m.Kind), m.Upvotes, m.Downvotes, m.Reports,
			m.Stability, m.FirstDiscoverer, m.DiscoveredAt, m.UsageCount, nullTime(m.UpdatedAt), m.Revision)
	}
	for _, v := range snap.Votes {
		batch.Queue(insertVote, v.UserID, v.TargetID, string(v.Type), nullTime(v.CastAt))
	}
	for _, r := range snap.Reports {
		batch.Queue(insertReport, r.ID, r.UserID, r.TargetID, string(r.Category), r.Description, nullTime(r.CreatedAt))
	}
	for _, c := range snap.Cache {
		batch.Queue(upsertCache, c.Key, c.InputIDs, []byte(c.Result), c.UsageCount,
			nullTime(c.CreatedAt), nullTime(c.LastUsedAt))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads the full persisted state. Missing columns fall back to zero
// values; the components recompute derived fields on restore.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	if version > SchemaVersion {
		return nil, fmt.Errorf("load snapshot: schema version %d is newer than %d", version, SchemaVersion)
	}
	snap := &Snapshot{Version: version}

	if snap.Mastery, err = s.loadMastery(ctx); err != nil {
		return nil, err
	}
	if snap.MetaData, err = s.loadMetaData(ctx); err != nil {
		return nil, err
	}
	if snap.Votes, err = s.loadVotes(ctx); err != nil {
		return nil, err
	}
	if snap.Reports, err = s.loadReports(ctx); err != nil {
		return nil, err
	}
	if snap.Cache, err = s.loadCache(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot loaded",
		zap.Int("version", snap.Version),
		zap.Int("mastery", len(snap.Mastery)),
		zap.Int("meta_data", len(snap.MetaData)),
		zap.Int("votes", len(snap.Votes)),
		zap.Int("reports", len(snap.Reports)),
		zap.Int("cache", len(snap.Cache)))
	return snap, nil
}

func (s *Store) loadMastery(ctx context.Context) ([]*review.MasteryRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT learner_id, sense_id, COALESCE(level, 0),
			last_reviewed, next_review,
			COALESCE(review_count, 0), COALESCE(correct_count, 0), COALESCE(avg_response_ms, 0)
		FROM mastery`)
	if err != nil {
		return nil, fmt.Errorf("load mastery: %w", err)
	}
	defer rows.Close()

	var out []*review.MasteryRecord
	for rows.Next() {
		var m review.MasteryRecord
		var last, next *time.Time
		var avgMs int64
		if err := rows.Scan(&m.LearnerID, &m.SenseID, &m.Level, &last, &next,
			&m.ReviewCount, &m.CorrectCount, &avgMs); err != nil {
			return nil, fmt.Errorf("scan mastery: %w", err)
		}
		m.LastReviewed = derefTime(last)
		m.NextReview = derefTime(next)
		m.AvgResponseTime = time.Duration(avgMs) * time.Millisecond
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) loadMetaData(ctx context.Context) ([]*sediment.MetaData, error) {
	rows, err := s.db.Query(ctx, `
		SELECT target_id, COALESCE(kind, 'sense'),
			COALESCE(upvotes, 0), COALESCE(downvotes, 0), COALESCE(reports, 0),
			COALESCE(stability, 0.5), COALESCE(first_discoverer, ''), discovered_at,
			COALESCE(usage_count, 0), updated_at, revision
		FROM meta_data`)
	if err != nil {
		return nil, fmt.Errorf("load meta data: %w", err)
	}
	defer rows.Close()

	var out []*sediment.MetaData
	for rows.Next() {
		var m sediment.MetaData
		var kind string
		var updated *time.Time
		if err := rows.Scan(&m.TargetID, &kind, &m.Upvotes, &m.Downvotes, &m.Reports,
			&m.Stability, &m.FirstDiscoverer, &m.DiscoveredAt, &m.UsageCount, &updated, &m.Revision); err != nil {
			return nil, fmt.Errorf("scan meta data: %w", err)
		}
		m.Kind = sediment.TargetKind(kind)
		m.UpdatedAt = derefTime(updated)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) loadVotes(ctx context.Context) ([]*sediment.Vote, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, target_id, vote_type, cast_at FROM votes`)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close()

	var out []*sediment.Vote
	for rows.Next() {
		var v sediment.Vote
		var typ string
		var cast *time.Time
		if err := rows.Scan(&v.UserID, &v.TargetID, &typ, &cast); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Type = sediment.VoteType(typ)
		v.CastAt = derefTime(cast)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *Store) loadReports(ctx context.Context) ([]*sediment.ErrorReport, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, user_id, target_id, COALESCE(category, 'other'),
			COALESCE(description, ''), created_at
		FROM error_reports
		ORDER BY created_at ASC NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	defer rows.Close()

	var out []*sediment.ErrorReport
	for rows.Next() {
		var r sediment.ErrorReport
		var category string
		var created *time.Time
		if err := rows.Scan(&r.ID, &r.UserID, &r.TargetID, &category, &r.Description, &created); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Category = sediment.ReportCategory(category)
		r.CreatedAt = derefTime(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) loadCache(ctx context.Context) ([]*synthesis.CachedSynthesis, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key, input_ids, result, COALESCE(usage_count, 0), created_at, last_used_at
		FROM synthesis_cache`)
	if err != nil {
		return nil, fmt.Errorf("load synthesis cache: %w", err)
	}
	defer rows.Close()

	var out []*synthesis.CachedSynthesis
	for rows.Next() {
		var c synthesis.CachedSynthesis
		var result []byte
		var created, used *time.Time
		if err := rows.Scan(&c.Key, &c.InputIDs, &result, &c.UsageCount, &created, &used); err != nil {
			return nil, fmt.Errorf("scan synthesis: %w", err)
		}
		if len(result) > 0 {
			c.Result = json.RawMessage(result)
		}
		c.CreatedAt = derefTime(created)
		c.LastUsedAt = derefTime(used)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
