package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// ruleRepo implements the rule and chain configuration store
type ruleRepo struct {
	db *sql.DB
}

// NewRuleRepo creates the rule repository and its tables
func NewRuleRepo(db *sql.DB) (repo.RuleRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS business_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			rule_type TEXT NOT NULL DEFAULT '',
			policy TEXT NOT NULL DEFAULT 'exclusive',
			priority INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			critical INTEGER NOT NULL DEFAULT 0,
			creator_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			schedule_start TEXT NOT NULL DEFAULT '',
			schedule_end TEXT NOT NULL DEFAULT '',
			weekdays TEXT NOT NULL DEFAULT '[]',
			target_groups TEXT NOT NULL DEFAULT '[]',
			status_filter TEXT NOT NULL DEFAULT '[]',
			auto_takeover INTEGER NOT NULL DEFAULT 1,
			takeover_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_business_rules_priority ON business_rules(enabled, priority)`,
		`CREATE TABLE IF NOT EXISTS rule_conditions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id INTEGER NOT NULL REFERENCES business_rules(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			operator TEXT NOT NULL DEFAULT '',
			operands TEXT NOT NULL DEFAULT '[]',
			field TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL DEFAULT '',
			match_mode TEXT NOT NULL DEFAULT '',
			case_sensitive INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_conditions_rule ON rule_conditions(rule_id)`,
		`CREATE TABLE IF NOT EXISTS rule_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id INTEGER NOT NULL REFERENCES business_rules(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			execution_order INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			required INTEGER NOT NULL DEFAULT 0,
			UNIQUE(rule_id, execution_order)
		)`,
		`CREATE TABLE IF NOT EXISTS rule_chains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			creator_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rule_chain_relations (
			chain_id INTEGER NOT NULL REFERENCES rule_chains(id) ON DELETE CASCADE,
			rule_id INTEGER NOT NULL REFERENCES business_rules(id) ON DELETE CASCADE,
			execution_order INTEGER NOT NULL,
			UNIQUE(chain_id, rule_id),
			UNIQUE(chain_id, execution_order)
		)`,
	)
	if err != nil {
		return nil, err
	}
	return &ruleRepo{db: db}, nil
}

const ruleColumns = `id, name, rule_type, policy, priority, enabled, critical, creator_id, description,
	schedule_start, schedule_end, weekdays, target_groups, status_filter, auto_takeover, takeover_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.BusinessRule, error) {
	var r domain.BusinessRule
	var enabled, critical, autoTakeover int
	var weekdays, targets, statuses string
	var createdAt, updatedAt int64
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Policy, &r.Priority, &enabled, &critical, &r.CreatorID,
		&r.Description, &r.Schedule.Start, &r.Schedule.End, &weekdays, &targets, &statuses,
		&autoTakeover, &r.TakeoverReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.Critical = critical != 0
	r.DisableAutoTakeover = autoTakeover == 0
	if err := json.Unmarshal([]byte(weekdays), &r.Schedule.Weekdays); err != nil {
		return nil, fmt.Errorf("failed to decode weekdays of rule %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &r.TargetGroups); err != nil {
		return nil, fmt.Errorf("failed to decode target groups of rule %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(statuses), &r.StatusFilter); err != nil {
		return nil, fmt.Errorf("failed to decode status filter of rule %d: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

// ListEnabledRules lists enabled rules ordered by priority
func (r *ruleRepo) ListEnabledRules(ctx context.Context) ([]*domain.BusinessRule, error) {
	return r.listRules(ctx, `SELECT `+ruleColumns+` FROM business_rules WHERE enabled = 1 ORDER BY priority, id`)
}

// ListRules lists all rules ordered by priority
func (r *ruleRepo) ListRules(ctx context.Context) ([]*domain.BusinessRule, error) {
	return r.listRules(ctx, `SELECT `+ruleColumns+` FROM business_rules ORDER BY priority, id`)
}

func (r *ruleRepo) listRules(ctx context.Context, query string, args ...any) ([]*domain.BusinessRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.BusinessRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	if err := r.loadChildren(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// loadChildren attaches conditions and actions to the rules
func (r *ruleRepo) loadChildren(ctx context.Context, rules []*domain.BusinessRule) error {
	if len(rules) == 0 {
		return nil
	}
	byID := make(map[int64]*domain.BusinessRule, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, kind, operator, operands, field, value, match_mode, case_sensitive
		FROM rule_conditions ORDER BY rule_id, id
	`)
	if err != nil {
		return fmt.Errorf("failed to query conditions: %w", err)
	}
	for rows.Next() {
		var c domain.RuleCondition
		var operands string
		var caseSensitive int
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Kind, &c.Operator, &operands, &c.Field, &c.Value, &c.MatchMode, &caseSensitive); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan condition: %w", err)
		}
		if err := json.Unmarshal([]byte(operands), &c.Operands); err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode operands of condition %d: %w", c.ID, err)
		}
		c.CaseSensitive = caseSensitive != 0
		if rule, ok := byID[c.RuleID]; ok {
			rule.Conditions = append(rule.Conditions, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate conditions: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT id, rule_id, kind, execution_order, payload, required
		FROM rule_actions ORDER BY rule_id, execution_order
	`)
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.RuleAction
		var payload string
		var required int
		if err := rows.Scan(&a.ID, &a.RuleID, &a.Kind, &a.ExecutionOrder, &payload, &required); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return fmt.Errorf("failed to decode payload of action %d: %w", a.ID, err)
		}
		a.Required = required != 0
		if rule, ok := byID[a.RuleID]; ok {
			rule.Actions = append(rule.Actions, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate actions: %w", err)
	}
	return nil
}

// GetRule gets a rule with its conditions and actions, nil if missing
func (r *ruleRepo) GetRule(ctx context.Context, id int64) (*domain.BusinessRule, error) {
	rules, err := r.listRules(ctx, `SELECT `+ruleColumns+` FROM business_rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}

// SaveRule creates or updates a rule and replaces its conditions and actions
func (r *ruleRepo) SaveRule(ctx context.Context, rule *domain.BusinessRule) (int64, error) {
	if err := rule.Validate(); err != nil {
		return 0, err
	}
	if rule.Policy == "" {
		rule.Policy = domain.PolicyExclusive
	}
	weekdays, _ := json.Marshal(nonNilInts(rule.Schedule.Weekdays))
	targets, _ := json.Marshal(nonNilStrings(rule.TargetGroups))
	statuses, _ := json.Marshal(nonNilStatuses(rule.StatusFilter))

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := []any{rule.Name, string(rule.Type), string(rule.Policy), rule.Priority, boolToInt(rule.Enabled), boolToInt(rule.Critical),
		rule.CreatorID, rule.Description, rule.Schedule.Start, rule.Schedule.End, string(weekdays), string(targets),
		string(statuses), boolToInt(!rule.DisableAutoTakeover), rule.TakeoverReason}

	if rule.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO business_rules (name, rule_type, policy, priority, enabled, critical, creator_id, description,
				schedule_start, schedule_end, weekdays, target_groups, status_filter, auto_takeover, takeover_reason,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, append(args, rule.CreatedAt.Unix(), rule.UpdatedAt.Unix())...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert rule: %w", err)
		}
		if rule.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read rule id: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE business_rules SET name = ?, rule_type = ?, policy = ?, priority = ?, enabled = ?, critical = ?,
				creator_id = ?, description = ?, schedule_start = ?, schedule_end = ?, weekdays = ?, target_groups = ?,
				status_filter = ?, auto_takeover = ?, takeover_reason = ?, updated_at = ?
			WHERE id = ?
		`, append(args, rule.UpdatedAt.Unix(), rule.ID)...)
		if err != nil {
			return 0, fmt.Errorf("failed to update rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("rule %d: %w", rule.ID, domain.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, rule.ID); err != nil {
			return 0, fmt.Errorf("failed to clear conditions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_actions WHERE rule_id = ?`, rule.ID); err != nil {
			return 0, fmt.Errorf("failed to clear actions: %w", err)
		}
	}

	for i := range rule.Conditions {
		c := &rule.Conditions[i]
		c.RuleID = rule.ID
		operands, _ := json.Marshal(nonNilStrings(c.Operands))
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rule_conditions (rule_id, kind, operator, operands, field, value, match_mode, case_sensitive)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.RuleID, string(c.Kind), string(c.Operator), string(operands), c.Field, c.Value, string(c.MatchMode), boolToInt(c.CaseSensitive))
		if err != nil {
			return 0, fmt.Errorf("failed to insert condition: %w", err)
		}
		c.ID, _ = res.LastInsertId()
	}
	for i := range rule.Actions {
		a := &rule.Actions[i]
		a.RuleID = rule.ID
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode action payload: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rule_actions (rule_id, kind, execution_order, payload, required)
			VALUES (?, ?, ?, ?, ?)
		`, a.RuleID, string(a.Kind), a.ExecutionOrder, string(payload), boolToInt(a.Required))
		if err != nil {
			return 0, fmt.Errorf("failed to insert action: %w", err)
		}
		a.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rule: %w", err)
	}
	return rule.ID, nil
}

// DeleteRule deletes a rule with its conditions, actions and chain relations
func (r *ruleRepo) DeleteRule(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM rule_chain_relations WHERE rule_id = ?`,
		`DELETE FROM rule_conditions WHERE rule_id = ?`,
		`DELETE FROM rule_actions WHERE rule_id = ?`,
		`DELETE FROM business_rules WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule delete: %w", err)
	}
	return nil
}

// ListChains lists chains with their relations ordered by id
func (r *ruleRepo) ListChains(ctx context.Context) ([]*domain.RuleChain, error) {
	return r.listChains(ctx, `SELECT id, name, enabled, creator_id, created_at, updated_at FROM rule_chains ORDER BY id`)
}

// GetChainByName gets a chain with its relations, nil if missing
func (r *ruleRepo) GetChainByName(ctx context.Context, name string) (*domain.RuleChain, error) {
	chains, err := r.listChains(ctx, `SELECT id, name, enabled, creator_id, created_at, updated_at FROM rule_chains WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, nil
	}
	return chains[0], nil
}

func (r *ruleRepo) listChains(ctx context.Context, query string, args ...any) ([]*domain.RuleChain, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	var chains []*domain.RuleChain
	byID := make(map[int64]*domain.RuleChain)
	for rows.Next() {
		var c domain.RuleChain
		var enabled int
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Name, &enabled, &c.CreatorID, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chain: %w", err)
		}
		c.Enabled = enabled != 0
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		chains = append(chains, &c)
		byID[c.ID] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chains: %w", err)
	}
	if len(chains) == 0 {
		return nil, nil
	}

	rel, err := r.db.QueryContext(ctx, `
		SELECT chain_id, rule_id, execution_order FROM rule_chain_relations ORDER BY chain_id, execution_order
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain relations: %w", err)
	}
	defer rel.Close()
	for rel.Next() {
		var cr domain.RuleChainRelation
		if err := rel.Scan(&cr.ChainID, &cr.RuleID, &cr.ExecutionOrder); err != nil {
			return nil, fmt.Errorf("failed to scan chain relation: %w", err)
		}
		if c, ok := byID[cr.ChainID]; ok {
			c.Relations = append(c.Relations, cr)
		}
	}
	if err := rel.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chain relations: %w", err)
	}
	return chains, nil
}

// SaveChain creates or updates a chain and replaces its relations
func (r *ruleRepo) SaveChain(ctx context.Context, chain *domain.RuleChain) (int64, error) {
	if err := chain.Validate(); err != nil {
		return 0, err
	}
	now := time.Now()
	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = now
	}
	chain.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if chain.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rule_chains (name, enabled, creator_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		`, chain.Name, boolToInt(chain.Enabled), chain.CreatorID, chain.CreatedAt.Unix(), chain.UpdatedAt.Unix())
		if err != nil {
			return 0, fmt.Errorf("failed to insert chain: %w", err)
		}
		if chain.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read chain id: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE rule_chains SET name = ?, enabled = ?, creator_id = ?, updated_at = ? WHERE id = ?
		`, chain.Name, boolToInt(chain.Enabled), chain.CreatorID, chain.UpdatedAt.Unix(), chain.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update chain: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("chain %d: %w", chain.ID, domain.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_chain_relations WHERE chain_id = ?`, chain.ID); err != nil {
			return 0, fmt.Errorf("failed to clear chain relations: %w", err)
		}
	}

	for i := range chain.Relations {
		rel := &chain.Relations[i]
		rel.ChainID = chain.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_chain_relations (chain_id, rule_id, execution_order) VALUES (?, ?, ?)
		`, rel.ChainID, rel.RuleID, rel.ExecutionOrder); err != nil {
			return 0, fmt.Errorf("failed to insert chain relation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chain: %w", err)
	}
	return chain.ID, nil
}

// AddRuleToChain appends a rule relation, rejecting a rule or order already present
func (r *ruleRepo) AddRuleToChain(ctx context.Context, chainID, ruleID int64, executionOrder int) error {
	var ruleTaken, orderTaken int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN rule_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN execution_order = ? THEN 1 ELSE 0 END), 0)
		FROM rule_chain_relations WHERE chain_id = ?
	`, ruleID, executionOrder, chainID).Scan(&ruleTaken, &orderTaken)
	if err != nil {
		return fmt.Errorf("failed to check chain relations: %w", err)
	}
	if ruleTaken > 0 {
		return domain.ErrDuplicateRuleInChain
	}
	if orderTaken > 0 {
		return domain.ErrInvalidOrder
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rule_chain_relations (chain_id, rule_id, execution_order) VALUES (?, ?, ?)
	`, chainID, ruleID, executionOrder)
	if err != nil {
		return fmt.Errorf("failed to add rule to chain: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE rule_chains SET updated_at = ? WHERE id = ?`, time.Now().Unix(), chainID)
	if err != nil {
		return fmt.Errorf("failed to touch chain: %w", err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func nonNilStatuses(s []domain.GroupStatus) []domain.GroupStatus {
	if s == nil {
		return []domain.GroupStatus{}
	}
	return s
}
