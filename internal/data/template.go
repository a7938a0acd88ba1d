package data

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// templateData is what a template can reference
type templateData struct {
	Content    string
	SenderName string
	ChatRoom   string
	GridArea   string
	GridUserID string
	ReceivedAt string
}

// TemplateRepo stores and renders reply templates
type TemplateRepo struct {
	db *sql.DB

	mu     sync.Mutex
	parsed map[string]*template.Template // keyed by template source
}

// NewTemplateRepo creates the template repository and its table
func NewTemplateRepo(db *sql.DB) (*TemplateRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS message_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return &TemplateRepo{db: db, parsed: make(map[string]*template.Template)}, nil
}

// Get returns a template, nil if missing
func (r *TemplateRepo) Get(ctx context.Context, id string) (*domain.MessageTemplate, error) {
	var t domain.MessageTemplate
	var createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, content, created_at, updated_at FROM message_templates WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Content, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

// Save creates or replaces a template after checking that it parses
func (r *TemplateRepo) Save(ctx context.Context, t *domain.MessageTemplate) error {
	if _, err := r.compile(t.Content); err != nil {
		return domain.NewConfigurationError(0, fmt.Sprintf("template %s: %v", t.ID, err))
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO message_templates (id, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Content, t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// Render renders the template for a message. An empty id renders the literal text instead.
func (r *TemplateRepo) Render(ctx context.Context, templateID, text string, msg *domain.Message) (string, error) {
	source := text
	if templateID != "" {
		t, err := r.Get(ctx, templateID)
		if err != nil {
			return "", err
		}
		if t == nil {
			return "", fmt.Errorf("template %s: %w", templateID, domain.ErrTemplateNotFound)
		}
		source = t.Content
	}

	tmpl, err := r.compile(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{
		Content:    msg.Content,
		SenderName: msg.SenderName,
		ChatRoom:   msg.ChatRoom,
		GridArea:   msg.GridArea,
		GridUserID: msg.GridUserID,
		ReceivedAt: msg.ReceivedAt.Format("2006-01-02 15:04"),
	}); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

func (r *TemplateRepo) compile(source string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.parsed[source]; ok {
		return t, nil
	}
	t, err := template.New("reply").Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, err
	}
	r.parsed[source] = t
	return t, nil
}
