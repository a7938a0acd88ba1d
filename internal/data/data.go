package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"

	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// OpenDB opens (and creates if needed) the sqlite database at path
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenMemoryDB opens a private in-memory database
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Repositories contains all repositories
type Repositories struct {
	Rules      repo.RuleRepo
	Keywords   repo.KeywordRepo
	Nlp        repo.NlpRepo
	ExecLogs   repo.ExecutionLogRepo
	Groups     repo.GroupStatusRepo
	Stats      repo.StatisticsRepo
	Templates  *TemplateRepo
	Dispatch   repo.DispatchRepo
	Classifier repo.ClassifierRepo
}

// Biz returns the repositories the usecases depend on
func (r *Repositories) Biz() biz.Repos {
	return biz.Repos{
		Rules:    r.Rules,
		Keywords: r.Keywords,
		Nlp:      r.Nlp,
		ExecLogs: r.ExecLogs,
		Groups:   r.Groups,
		Dispatch: r.Dispatch,
	}
}

// Clients are the external collaborators behind the repositories
type Clients struct {
	Feishu     Messenger // nil disables outbound delivery
	Classifier *ClassifierConfig
}

// NewRepositories creates all repositories on one database
func NewRepositories(db *sql.DB, clients Clients, logger *zap.Logger) (*Repositories, error) {
	rules, err := NewRuleRepo(db)
	if err != nil {
		return nil, err
	}
	keywords, err := NewKeywordRepo(db)
	if err != nil {
		return nil, err
	}
	nlp, err := NewNlpRepo(db)
	if err != nil {
		return nil, err
	}
	execLogs, err := NewExecutionLogRepo(db)
	if err != nil {
		return nil, err
	}
	groups, err := NewGroupStatusRepo(db)
	if err != nil {
		return nil, err
	}
	stats, err := NewStatisticsRepo(db)
	if err != nil {
		return nil, err
	}
	templates, err := NewTemplateRepo(db)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{
		Rules:     rules,
		Keywords:  keywords,
		Nlp:       nlp,
		ExecLogs:  execLogs,
		Groups:    groups,
		Stats:     stats,
		Templates: templates,
	}

	if clients.Feishu != nil {
		repos.Dispatch = NewFeishuDispatchRepo(clients.Feishu, templates, logger)
	} else {
		repos.Dispatch = NewLogDispatchRepo(templates, logger)
	}
	if clients.Classifier != nil && clients.Classifier.APIKey != "" {
		repos.Classifier = NewClassifierRepo(*clients.Classifier, logger)
	} else {
		repos.Classifier = NewKeywordClassifierRepo()
	}
	return repos, nil
}

var _ repo.TemplateRepo = (*TemplateRepo)(nil)

// execAll runs schema statements in order
func execAll(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
