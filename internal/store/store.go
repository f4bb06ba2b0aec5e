// Package store is the durable record of runs, discoveries, contacts,
// and audit entries. Backed by a single-file SQLite database in WAL
// mode, grounded directly on original_source/agent/db.py's schema and
// query shapes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Status mirrors the run status lifecycle: pending -> processing ->
// (completed | failed | cancelled).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AuditStatus is the status of one audit_log row.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
	AuditTimeout AuditStatus = "timeout"
	AuditWarning AuditStatus = "warning"
	AuditSkipped AuditStatus = "skipped"
)

// Config mirrors tarsy's pkg/database Config struct shape: the tuning
// of the single database/sql pool that serves both reads and writes,
// with SQLite's busy_timeout absorbing writer contention.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the spec's default path, "<repo>/data/pipeline.db".
func DefaultConfig() Config {
	return Config{
		Path:            "data/pipeline.db",
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the underlying *sql.DB and provides the Store contract
// from spec.md §4.1.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at cfg.Path,
// enables WAL mode, and idempotently creates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// init idempotently creates the schema. Mirrors db.py's executescript
// call: runs, discoveries, contacts, audit_log plus indexes.
func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_domain TEXT,
	prospect_name TEXT,
	prospect_email TEXT,
	target_company TEXT,
	product_description TEXT,
	campaign_id TEXT,
	tier TEXT,
	batch_id TEXT,
	search_strategy TEXT,
	discovery_signals_a TEXT,
	discovery_signals_b TEXT,
	discovery_buyers TEXT,
	featured_buyer_id TEXT,
	featured_buyer_name TEXT,
	featured_buyer_type TEXT,
	selection_rationale TEXT,
	secondary_buyers TEXT,
	feat_profile TEXT,
	feat_contacts TEXT,
	feat_opportunities TEXT,
	feat_ai_context TEXT,
	sec_profiles TEXT,
	sec_contacts TEXT,
	section_exec_summary TEXT,
	section_featured TEXT,
	section_secondary TEXT,
	section_cta TEXT,
	report_markdown TEXT,
	validation_result TEXT,
	notion_url TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS discoveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	target_domain TEXT,
	buyer_id TEXT,
	buyer_name TEXT,
	signal_type TEXT,
	signal_summary TEXT,
	signal_score REAL,
	discovered_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	buyer_id TEXT,
	contact_name TEXT,
	contact_title TEXT,
	contact_email TEXT,
	email_verified INTEGER,
	discovered_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER,
	step TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT,
	duration_seconds REAL,
	metadata TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_runs_target_domain ON runs(target_domain);
CREATE INDEX IF NOT EXISTS idx_contacts_buyer_id ON contacts(buyer_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_run_id ON audit_log(run_id);
`

// Webhook is the pipeline's input payload (spec.md §3).
type Webhook struct {
	TargetCompany       string
	TargetDomain        string
	ProductDescription  string
	CampaignID          string
	ProspectName        string
	ProspectEmail       string
	Tier                string
}

// InsertRunStub creates a row with status pending; all non-webhook
// columns are NULL. Mirrors db.py's insert_run_stub.
func (s *Store) InsertRunStub(ctx context.Context, wh Webhook, batchID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (target_domain, prospect_name, prospect_email, target_company,
			product_description, campaign_id, tier, batch_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		nullify(wh.TargetDomain), nullify(wh.ProspectName), nullify(wh.ProspectEmail),
		nullify(wh.TargetCompany), nullify(wh.ProductDescription), nullify(wh.CampaignID),
		nullify(wh.Tier), nullify(batchID),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert_run_stub: %w", err)
	}
	return res.LastInsertId()
}

// MarkProcessing transitions a run from pending to processing. Returns
// false (no error) if the row was not in pending status, so callers can
// detect a double-admission race.
func (s *Store) MarkProcessing(ctx context.Context, runID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = 'processing' WHERE id = ? AND status = 'pending'`, runID)
	if err != nil {
		return false, fmt.Errorf("store: mark_processing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DiscoveryPartial is the set of columns update_run_discovery may
// backfill. Only non-zero-value fields are written; the SQL itself
// applies COALESCE so an existing non-null column is never overwritten.
type DiscoveryPartial struct {
	SearchStrategy     any
	DiscoverySignalsA  any
	DiscoverySignalsB  any
	DiscoveryBuyers    any
	FeaturedBuyerID    any
	FeaturedBuyerName  any
	FeaturedBuyerType  any
	SelectionRationale any
	SecondaryBuyers    any
}

// UpdateRunDiscovery backfills discovery-phase columns using COALESCE
// semantics (never overwrite existing non-null values). Mirrors db.py's
// update_run_discovery.
func (s *Store) UpdateRunDiscovery(ctx context.Context, runID int64, p DiscoveryPartial) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			search_strategy = COALESCE(runs.search_strategy, ?),
			discovery_signals_a = COALESCE(runs.discovery_signals_a, ?),
			discovery_signals_b = COALESCE(runs.discovery_signals_b, ?),
			discovery_buyers = COALESCE(runs.discovery_buyers, ?),
			featured_buyer_id = COALESCE(runs.featured_buyer_id, ?),
			featured_buyer_name = COALESCE(runs.featured_buyer_name, ?),
			featured_buyer_type = COALESCE(runs.featured_buyer_type, ?),
			selection_rationale = COALESCE(runs.selection_rationale, ?),
			secondary_buyers = COALESCE(runs.secondary_buyers, ?)
		WHERE id = ?`,
		toJSON(p.SearchStrategy), toJSON(p.DiscoverySignalsA), toJSON(p.DiscoverySignalsB),
		toJSON(p.DiscoveryBuyers), toJSON(p.FeaturedBuyerID), toJSON(p.FeaturedBuyerName), toJSON(p.FeaturedBuyerType),
		toJSON(p.SelectionRationale), toJSON(p.SecondaryBuyers), runID)
	if err != nil {
		return fmt.Errorf("store: update_run_discovery: %w", err)
	}
	return nil
}

// CompletedPartial is the full set of enrichment/report columns written
// when a run finishes successfully.
type CompletedPartial struct {
	FeatProfile        any
	FeatContacts       any
	FeatOpportunities  any
	FeatAIContext      any
	SecProfiles        any
	SecContacts        any
	SectionExecSummary string
	SectionFeatured    string
	SectionSecondary   string
	SectionCTA         string
	ReportMarkdown     string
	ValidationResult   any
	NotionURL          string
}

// UpdateRunCompleted writes enrichment and report columns and sets
// status completed.
func (s *Store) UpdateRunCompleted(ctx context.Context, runID int64, p CompletedPartial) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			feat_profile = COALESCE(runs.feat_profile, ?),
			feat_contacts = COALESCE(runs.feat_contacts, ?),
			feat_opportunities = COALESCE(runs.feat_opportunities, ?),
			feat_ai_context = COALESCE(runs.feat_ai_context, ?),
			sec_profiles = COALESCE(runs.sec_profiles, ?),
			sec_contacts = COALESCE(runs.sec_contacts, ?),
			section_exec_summary = ?,
			section_featured = ?,
			section_secondary = ?,
			section_cta = ?,
			report_markdown = ?,
			validation_result = ?,
			notion_url = ?,
			status = 'completed',
			completed_at = datetime('now')
		WHERE id = ?`,
		toJSON(p.FeatProfile), toJSON(p.FeatContacts), toJSON(p.FeatOpportunities), toJSON(p.FeatAIContext),
		toJSON(p.SecProfiles), toJSON(p.SecContacts),
		p.SectionExecSummary, p.SectionFeatured, p.SectionSecondary, p.SectionCTA,
		p.ReportMarkdown, toJSON(p.ValidationResult), p.NotionURL, runID)
	if err != nil {
		return fmt.Errorf("store: update_run_completed: %w", err)
	}
	return nil
}

// UpdateRunFailed COALESCE-updates every persisted blackboard key and
// sets status failed. Must not overwrite values already saved by
// discovery or a completed later step.
func (s *Store) UpdateRunFailed(ctx context.Context, runID int64, errMsg string, partial map[string]any) error {
	// Build a dynamic COALESCE update over whatever keys are present in
	// partial, mirroring db.py's update_run_failed which accepts an
	// arbitrary partial_state dict.
	allowed := map[string]bool{
		"search_strategy": true, "discovery_signals_a": true, "discovery_signals_b": true,
		"discovery_buyers": true, "featured_buyer_id": true, "featured_buyer_name": true,
		"featured_buyer_type": true, "selection_rationale": true, "secondary_buyers": true,
		"feat_profile": true, "feat_contacts": true, "feat_opportunities": true, "feat_ai_context": true,
		"sec_profiles": true, "sec_contacts": true, "section_exec_summary": true, "section_featured": true,
		"section_secondary": true, "section_cta": true, "report_markdown": true, "validation_result": true,
		"notion_url": true,
	}

	setClauses := "status = 'failed'"
	args := []any{}
	for col, v := range partial {
		if !allowed[col] {
			continue
		}
		setClauses += fmt.Sprintf(", %s = COALESCE(runs.%s, ?)", col, col)
		args = append(args, toJSON(v))
	}
	args = append(args, runID)

	query := fmt.Sprintf(`UPDATE runs SET %s WHERE id = ?`, setClauses)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update_run_failed: %w", err)
	}

	if errMsg != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE runs SET validation_result = COALESCE(runs.validation_result, ?) WHERE id = ?`,
			truncate(errMsg, 2000), runID); err != nil {
			return fmt.Errorf("store: update_run_failed (error msg): %w", err)
		}
	}
	return nil
}

// UpdateRunCancelled sets status cancelled only if currently processing
// or pending.
func (s *Store) UpdateRunCancelled(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = 'cancelled' WHERE id = ? AND status IN ('processing', 'pending')`, runID)
	if err != nil {
		return fmt.Errorf("store: update_run_cancelled: %w", err)
	}
	return nil
}

// Discovery is one scored buyer candidate tied to a run.
type Discovery struct {
	BuyerID       string
	BuyerName     string
	SignalType    string
	SignalSummary string
	SignalScore   float64
}

// InsertDiscoveries bulk-inserts scored buyer candidates. Append-only;
// never mutated after insert.
func (s *Store) InsertDiscoveries(ctx context.Context, runID int64, domain string, discoveries []Discovery) error {
	if len(discoveries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert_discoveries: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discoveries (run_id, target_domain, buyer_id, buyer_name, signal_type, signal_summary, signal_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert_discoveries: %w", err)
	}
	defer stmt.Close()

	for _, d := range discoveries {
		if _, err := stmt.ExecContext(ctx, runID, domain, d.BuyerID, d.BuyerName, d.SignalType, d.SignalSummary, d.SignalScore); err != nil {
			return fmt.Errorf("store: insert_discoveries: %w", err)
		}
	}
	return tx.Commit()
}

// Contact is a named individual tied to a buyer within a run.
type Contact struct {
	BuyerID       string
	ContactName   string
	ContactTitle  string
	ContactEmail  string
	EmailVerified bool
}

// InsertContacts bulk-inserts contacts for a buyer within a run.
func (s *Store) InsertContacts(ctx context.Context, runID int64, contacts []Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert_contacts: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (run_id, buyer_id, contact_name, contact_title, contact_email, email_verified)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert_contacts: %w", err)
	}
	defer stmt.Close()

	for _, c := range contacts {
		verified := 0
		if c.EmailVerified {
			verified = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, c.BuyerID, c.ContactName, c.ContactTitle, c.ContactEmail, verified); err != nil {
			return fmt.Errorf("store: insert_contacts: %w", err)
		}
	}
	return tx.Commit()
}

// LogStep appends one audit entry. Message is truncated at 2000 chars;
// metadata is stored as opaque JSON. Per spec.md §4.1/§8, this must
// never raise to the caller — any failure here is logged and swallowed.
func (s *Store) LogStep(ctx context.Context, runID int64, step string, status AuditStatus, message string, duration time.Duration, metadata any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("store: log_step panicked, swallowing", "run_id", runID, "step", step, "recover", r)
		}
	}()

	var durSeconds *float64
	if duration > 0 {
		v := duration.Seconds()
		durSeconds = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (run_id, step, status, message, duration_seconds, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, step, string(status), truncate(message, 2000), durSeconds, toJSON(metadata))
	if err != nil {
		slog.Error("store: log_step failed, swallowing", "run_id", runID, "step", step, "error", err)
	}
}

// AuditEntry is one row of the audit log, as returned to callers.
type AuditEntry struct {
	ID          int64
	RunID       int64
	Step        string
	Status      string
	Message     string
	DurationSec *float64
	Metadata    string
	CreatedAt   string
}

// GetAuditLog returns all audit rows for a run, oldest first.
func (s *Store) GetAuditLog(ctx context.Context, runID int64) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, status, COALESCE(message, ''), duration_seconds, COALESCE(metadata, ''), created_at
		 FROM audit_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get_audit_log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Status, &e.Message, &e.DurationSec, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: get_audit_log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run is a lightweight projection of the runs row, used for status
// polling and list views (original_source/agent/server.py's
// "light_run" shape).
type Run struct {
	ID                int64
	TargetDomain      string
	TargetCompany     string
	Status            string
	CreatedAt         string
	CompletedAt       *string
	FeaturedBuyerID   *string
	FeaturedBuyerName *string
	NotionURL         *string
	BatchID           *string
}

// GetRun fetches the lightweight projection for one run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(target_domain,''), COALESCE(target_company,''), status, created_at,
		       completed_at, featured_buyer_id, featured_buyer_name, notion_url, batch_id
		FROM runs WHERE id = ?`, runID)
	var r Run
	if err := row.Scan(&r.ID, &r.TargetDomain, &r.TargetCompany, &r.Status, &r.CreatedAt,
		&r.CompletedAt, &r.FeaturedBuyerID, &r.FeaturedBuyerName, &r.NotionURL, &r.BatchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get_run: %w", err)
	}
	return &r, nil
}

// GetRecentRuns returns the most recent runs, newest first. Supplemented
// from original_source/agent/server.py's GET /api/runs.
func (s *Store) GetRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(target_domain,''), COALESCE(target_company,''), status, created_at,
		       completed_at, featured_buyer_id, featured_buyer_name, notion_url, batch_id
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get_recent_runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// GetBatchRuns returns every run belonging to a batch. Supplemented
// from original_source/agent/db.py's get_batch_runs.
func (s *Store) GetBatchRuns(ctx context.Context, batchID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(target_domain,''), COALESCE(target_company,''), status, created_at,
		       completed_at, featured_buyer_id, featured_buyer_name, notion_url, batch_id
		FROM runs WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: get_batch_runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LoadPriorRuns returns the most recent runs for a domain, newest
// first, capped at limit. Used by s1 to feed diversification into s2.
func (s *Store) LoadPriorRuns(ctx context.Context, domain string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(target_domain,''), COALESCE(target_company,''), status, created_at,
		       completed_at, featured_buyer_id, featured_buyer_name, notion_url, batch_id
		FROM runs WHERE target_domain = ? ORDER BY created_at DESC LIMIT ?`, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("store: load_prior_runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.TargetDomain, &r.TargetCompany, &r.Status, &r.CreatedAt,
			&r.CompletedAt, &r.FeaturedBuyerID, &r.FeaturedBuyerName, &r.NotionURL, &r.BatchID); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullify(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("store: failed to marshal value for storage", "error", err)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	return string(b)
}

// GetDiscoveries returns every scored-buyer candidate recorded for a
// run, in insertion order. Supplemented from
// original_source/agent/server.py's get_data(table="discoveries").
func (s *Store) GetDiscoveries(ctx context.Context, runID int64) ([]Discovery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(buyer_id,''), COALESCE(buyer_name,''), COALESCE(signal_type,''),
		       COALESCE(signal_summary,''), COALESCE(signal_score, 0)
		FROM discoveries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get_discoveries: %w", err)
	}
	defer rows.Close()

	var out []Discovery
	for rows.Next() {
		var d Discovery
		if err := rows.Scan(&d.BuyerID, &d.BuyerName, &d.SignalType, &d.SignalSummary, &d.SignalScore); err != nil {
			return nil, fmt.Errorf("store: scan discovery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetContacts returns every contact recorded for a run. Supplemented
// from original_source/agent/server.py's get_data(table="contacts").
func (s *Store) GetContacts(ctx context.Context, runID int64) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(buyer_id,''), COALESCE(contact_name,''), COALESCE(contact_title,''),
		       COALESCE(contact_email,''), COALESCE(email_verified, 0)
		FROM contacts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get_contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.BuyerID, &c.ContactName, &c.ContactTitle, &c.ContactEmail, &c.EmailVerified); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRunFull returns every column of one run row, with the JSON text
// columns parsed into nested values, for the drill-down detail view.
// Supplemented from original_source/agent/server.py's
// get_data(table="run"), which parses the same column set.
func (s *Store) GetRunFull(ctx context.Context, runID int64) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_domain, prospect_name, prospect_email, target_company,
		       product_description, campaign_id, tier, batch_id, search_strategy,
		       discovery_signals_a, discovery_signals_b, discovery_buyers,
		       featured_buyer_id, featured_buyer_name, featured_buyer_type,
		       selection_rationale, secondary_buyers, feat_profile, feat_contacts,
		       feat_opportunities, feat_ai_context, sec_profiles, sec_contacts,
		       section_exec_summary, section_featured, section_secondary, section_cta,
		       report_markdown, validation_result, notion_url, status, created_at, completed_at
		FROM runs WHERE id = ?`, runID)

	var (
		id                                                                                               int64
		targetDomain, prospectName, prospectEmail, targetCompany, productDescription                     sql.NullString
		campaignID, tier, batchID, searchStrategy, discoverySignalsA, discoverySignalsB, discoveryBuyers  sql.NullString
		featuredBuyerID, featuredBuyerName, featuredBuyerType, selectionRationale, secondaryBuyers        sql.NullString
		featProfile, featContacts, featOpportunities, featAIContext, secProfiles, secContacts             sql.NullString
		sectionExecSummary, sectionFeatured, sectionSecondary, sectionCTA, reportMarkdown, validationResult sql.NullString
		notionURL, status, createdAt, completedAt                                                        sql.NullString
	)
	if err := row.Scan(&id, &targetDomain, &prospectName, &prospectEmail, &targetCompany,
		&productDescription, &campaignID, &tier, &batchID, &searchStrategy,
		&discoverySignalsA, &discoverySignalsB, &discoveryBuyers,
		&featuredBuyerID, &featuredBuyerName, &featuredBuyerType,
		&selectionRationale, &secondaryBuyers, &featProfile, &featContacts,
		&featOpportunities, &featAIContext, &secProfiles, &secContacts,
		&sectionExecSummary, &sectionFeatured, &sectionSecondary, &sectionCTA,
		&reportMarkdown, &validationResult, &notionURL, &status, &createdAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get_run_full: %w", err)
	}

	out := map[string]any{
		"id": id, "target_domain": targetDomain.String, "prospect_name": prospectName.String,
		"prospect_email": prospectEmail.String, "target_company": targetCompany.String,
		"product_description": productDescription.String, "campaign_id": campaignID.String,
		"tier": tier.String, "batch_id": batchID.String,
		"featured_buyer_id": featuredBuyerID.String, "featured_buyer_name": featuredBuyerName.String,
		"featured_buyer_type": featuredBuyerType.String, "selection_rationale": selectionRationale.String,
		"feat_ai_context": featAIContext.String, "section_exec_summary": sectionExecSummary.String,
		"section_featured": sectionFeatured.String, "section_secondary": sectionSecondary.String,
		"section_cta": sectionCTA.String, "report_markdown": reportMarkdown.String,
		"notion_url": notionURL.String, "status": status.String, "created_at": createdAt.String,
		"completed_at": completedAt.String,
	}
	parseJSONColumn(out, "search_strategy", searchStrategy.String)
	parseJSONColumn(out, "discovery_signals_a", discoverySignalsA.String)
	parseJSONColumn(out, "discovery_signals_b", discoverySignalsB.String)
	parseJSONColumn(out, "discovery_buyers", discoveryBuyers.String)
	parseJSONColumn(out, "secondary_buyers", secondaryBuyers.String)
	parseJSONColumn(out, "feat_profile", featProfile.String)
	parseJSONColumn(out, "feat_contacts", featContacts.String)
	parseJSONColumn(out, "feat_opportunities", featOpportunities.String)
	parseJSONColumn(out, "sec_profiles", secProfiles.String)
	parseJSONColumn(out, "sec_contacts", secContacts.String)
	parseJSONColumn(out, "validation_result", validationResult.String)
	return out, nil
}

// parseJSONColumn decodes a stored JSON text column into its parsed
// form, falling back to the raw string if it isn't valid JSON.
func parseJSONColumn(out map[string]any, key, raw string) {
	if raw == "" {
		out[key] = nil
		return
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		out[key] = raw
		return
	}
	out[key] = v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s... [truncated, %d chars total]", s[:max], len(s))
}
