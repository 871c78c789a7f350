package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/recurrence"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

const selectColumns = `
	SELECT id, rrule_params, exclusion_params, time_zone, day_offset,
	       last_occurrence, next_occurrence, handler_name, related_type,
	       related_id, related_method, time_last_handled, meta_data,
	       created_at, updated_at
	FROM recurrence_rules`

// Store handles database operations for recurrence rules.
type Store struct {
	db database.Querier
}

// NewStore creates a new rule store.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

// WithTx returns a store that runs its queries inside tx.
func (s *Store) WithTx(tx *database.Tx) *Store {
	return &Store{db: tx}
}

// Create validates and inserts a rule. A rule with neither a last nor a next
// occurrence is seeded from its spec first.
func (s *Store) Create(ctx context.Context, rule *Rule) error {
	if rule.TimeZone == "" {
		rule.TimeZone = "UTC"
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating rule id: %w", err)
		}
		rule.ID = id.String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if rule.LastOccurrence == nil && rule.NextOccurrence == nil {
		if err := rule.Seed(); err != nil {
			return err
		}
	}

	params, exclusion, meta, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recurrence_rules (id, rrule_params, exclusion_params, time_zone, day_offset,
			last_occurrence, next_occurrence, handler_name, related_type, related_id, related_method,
			time_last_handled, meta_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rule.ID,
		params,
		exclusion,
		rule.TimeZone,
		rule.DayOffset,
		database.NullTime(rule.LastOccurrence),
		database.NullTime(rule.NextOccurrence),
		rule.HandlerName,
		rule.RelatedType,
		rule.RelatedID,
		rule.RelatedMethod,
		database.NullTime(rule.TimeLastHandled),
		meta,
		database.FormatTime(rule.CreatedAt),
		database.FormatTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting rule: %w", database.ClassifyError(err))
	}

	return nil
}

// Update validates and writes every column of an existing rule.
func (s *Store) Update(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	params, exclusion, meta, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE recurrence_rules
		SET rrule_params = ?, exclusion_params = ?, time_zone = ?, day_offset = ?,
			last_occurrence = ?, next_occurrence = ?, handler_name = ?, related_type = ?,
			related_id = ?, related_method = ?, time_last_handled = ?, meta_data = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		params,
		exclusion,
		rule.TimeZone,
		rule.DayOffset,
		database.NullTime(rule.LastOccurrence),
		database.NullTime(rule.NextOccurrence),
		rule.HandlerName,
		rule.RelatedType,
		rule.RelatedID,
		rule.RelatedMethod,
		database.NullTime(rule.TimeLastHandled),
		meta,
		database.FormatTime(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", database.ClassifyError(err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rule.ID)
	}

	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting rule: %w", err)
	}
	return rule, nil
}

// GetOrCreate returns the oldest rule with the same handler reference as
// rule, creating rule when there is none. The boolean reports whether rule
// was inserted.
func (s *Store) GetOrCreate(ctx context.Context, rule *Rule) (*Rule, bool, error) {
	query := selectColumns + `
		WHERE handler_name = ? AND related_type = ? AND related_id = ? AND related_method = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, rule.HandlerName, rule.RelatedType, rule.RelatedID, rule.RelatedMethod)

	existing, err := scanRule(row)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("looking up rule: %w", err)
	}

	if err := s.Create(ctx, rule); err != nil {
		return nil, false, err
	}
	return rule, true, nil
}

// List retrieves all rules in creation order.
func (s *Store) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, "listing rules", selectColumns+` ORDER BY created_at ASC, id ASC`)
}

// FindByHandler retrieves the rules dispatched through a named handler.
func (s *Store) FindByHandler(ctx context.Context, handlerName string) ([]*Rule, error) {
	query := selectColumns + `
		WHERE handler_name = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "querying rules by handler", query, handlerName)
}

// FindByRelated retrieves the rules bound to a related entity.
func (s *Store) FindByRelated(ctx context.Context, relatedType, relatedID string) ([]*Rule, error) {
	query := selectColumns + `
		WHERE related_type = ? AND related_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "querying rules by related entity", query, relatedType, relatedID)
}

// Overdue retrieves the rules of one handler whose next occurrence is at or
// before now, earliest first.
func (s *Store) Overdue(ctx context.Context, handlerName string, now time.Time) ([]*Rule, error) {
	query := selectColumns + `
		WHERE handler_name = ?
		  AND next_occurrence IS NOT NULL
		  AND next_occurrence <= ?
		ORDER BY next_occurrence ASC, id ASC
	`
	return s.query(ctx, "querying overdue rules", query, handlerName, database.FormatTime(now))
}

// OverdueHandlerRepresentatives returns one overdue rule per handler name:
// the one with the earliest next occurrence, ties broken by id. Handlers
// that were served least recently come first.
func (s *Store) OverdueHandlerRepresentatives(ctx context.Context, now time.Time) ([]*Rule, error) {
	query := `
		WITH ranked AS (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY handler_name
				ORDER BY next_occurrence ASC, id ASC
			) AS rn
			FROM recurrence_rules
			WHERE handler_name != ''
			  AND next_occurrence IS NOT NULL
			  AND next_occurrence <= ?
		)
		SELECT id, rrule_params, exclusion_params, time_zone, day_offset,
		       last_occurrence, next_occurrence, handler_name, related_type,
		       related_id, related_method, time_last_handled, meta_data,
		       created_at, updated_at
		FROM ranked
		WHERE rn = 1
		ORDER BY time_last_handled ASC NULLS FIRST, next_occurrence ASC, handler_name ASC
	`
	return s.query(ctx, "querying overdue handlers", query, database.FormatTime(now))
}

// OverdueRelated returns the overdue rules bound to a related entity method,
// least recently handled first.
func (s *Store) OverdueRelated(ctx context.Context, now time.Time) ([]*Rule, error) {
	query := selectColumns + `
		WHERE related_method != ''
		  AND next_occurrence IS NOT NULL
		  AND next_occurrence <= ?
		ORDER BY time_last_handled ASC NULLS FIRST, next_occurrence ASC, id ASC
	`
	return s.query(ctx, "querying overdue related rules", query, database.FormatTime(now))
}

// UpdateNextOccurrences advances every due rule at now and persists the new
// last and next occurrences. Rules that are not due or already exhausted are
// returned unchanged and not written.
func (s *Store) UpdateNextOccurrences(ctx context.Context, rules []*Rule, now time.Time) ([]*Rule, error) {
	query := `
		UPDATE recurrence_rules
		SET last_occurrence = ?, next_occurrence = ?, updated_at = ?
		WHERE id = ?
	`
	stamp := database.FormatTime(time.Now().UTC())

	for _, rule := range rules {
		result, err := rule.Advance(now)
		if err != nil {
			return nil, fmt.Errorf("advancing rule %s: %w", rule.ID, err)
		}
		if result != Advanced {
			continue
		}
		if _, err := s.db.ExecContext(ctx, query,
			database.NullTime(rule.LastOccurrence),
			database.NullTime(rule.NextOccurrence),
			stamp,
			rule.ID,
		); err != nil {
			return nil, fmt.Errorf("updating next occurrence of %s: %w", rule.ID, err)
		}
	}

	return rules, nil
}

// MarkHandlersHandled stamps every rule of the named handlers with now.
func (s *Store) MarkHandlersHandled(ctx context.Context, handlerNames []string, now time.Time) error {
	return s.markHandled(ctx, "handler_name", handlerNames, now)
}

// MarkRulesHandled stamps the given rules with now.
func (s *Store) MarkRulesHandled(ctx context.Context, ids []string, now time.Time) error {
	return s.markHandled(ctx, "id", ids, now)
}

func (s *Store) markHandled(ctx context.Context, column string, values []string, now time.Time) error {
	if len(values) == 0 {
		return nil
	}

	args := make([]any, 0, len(values)+1)
	args = append(args, database.FormatTime(now))
	for _, v := range values {
		args = append(args, v)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	query := fmt.Sprintf(`UPDATE recurrence_rules SET time_last_handled = ? WHERE %s IN (%s)`, column, placeholders)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking rules handled: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, action, query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return rules, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var rule Rule
	var params, meta, createdAt, updatedAt string
	var exclusion, last, next, handled sql.NullString

	err := row.Scan(
		&rule.ID,
		&params,
		&exclusion,
		&rule.TimeZone,
		&rule.DayOffset,
		&last,
		&next,
		&rule.HandlerName,
		&rule.RelatedType,
		&rule.RelatedID,
		&rule.RelatedMethod,
		&handled,
		&meta,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &rule.Spec); err != nil {
		return nil, fmt.Errorf("decoding rrule params: %w", err)
	}
	if exclusion.Valid && exclusion.String != "" {
		var ex recurrence.Spec
		if err := json.Unmarshal([]byte(exclusion.String), &ex); err != nil {
			return nil, fmt.Errorf("decoding exclusion params: %w", err)
		}
		rule.Exclusion = &ex
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rule.MetaData); err != nil {
			return nil, fmt.Errorf("decoding meta data: %w", err)
		}
	}

	if rule.LastOccurrence, err = database.ParseNullTime(last); err != nil {
		return nil, err
	}
	if rule.NextOccurrence, err = database.ParseNullTime(next); err != nil {
		return nil, err
	}
	if rule.TimeLastHandled, err = database.ParseNullTime(handled); err != nil {
		return nil, err
	}

	if rule.CreatedAt, err = time.Parse(database.TimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(database.TimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rule, nil
}

func encodeRule(rule *Rule) (params string, exclusion sql.NullString, meta string, err error) {
	data, err := json.Marshal(rule.Spec)
	if err != nil {
		return "", exclusion, "", fmt.Errorf("encoding rrule params: %w", err)
	}
	params = string(data)

	if rule.Exclusion != nil {
		data, err := json.Marshal(rule.Exclusion)
		if err != nil {
			return "", exclusion, "", fmt.Errorf("encoding exclusion params: %w", err)
		}
		exclusion = sql.NullString{String: string(data), Valid: true}
	}

	meta = "{}"
	if len(rule.MetaData) > 0 {
		data, err := json.Marshal(rule.MetaData)
		if err != nil {
			return "", exclusion, "", fmt.Errorf("encoding meta data: %w", err)
		}
		meta = string(data)
	}

	return params, exclusion, meta, nil
}
