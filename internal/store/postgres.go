package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool     *pgxpool.Pool
	defaults model.EmergentModeSettings
	logger   *logger.Logger
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
// defaults replace persisted emergent settings that cannot be decoded.
func NewPostgresStore(ctx context.Context, databaseURL string, defaults model.EmergentModeSettings, log *logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, defaults: defaults, logger: log}, nil
}

// Migrate creates the tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateOrganization inserts an organization.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, industry, description, mission, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, org.ID, org.Name, org.Industry, org.Description, org.Mission, org.CreatedAt, org.UpdatedAt)
	return err
}

// GetOrganization retrieves an organization by ID.
func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	org := &model.Organization{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, industry, description, mission, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Industry, &org.Description, &org.Mission, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return org, nil
}

// ListOrganizations lists organizations by creation time.
func (s *PostgresStore) ListOrganizations(ctx context.Context, limit, offset int) ([]model.Organization, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, industry, description, mission, created_at, updated_at
		FROM organizations ORDER BY created_at, id LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Industry, &org.Description, &org.Mission, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

const agentColumns = `id, organization_id, name, system_prompt, provider, model,
	communication_style, reaction_tendency, seniority_level, is_active, created_at, updated_at`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	a := &model.Agent{}
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.SystemPrompt, &a.Provider, &a.Model,
		&a.CommunicationStyle, &a.ReactionTendency, &a.SeniorityLevel, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAgent inserts an agent.
func (s *PostgresStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.OrganizationID, a.Name, a.SystemPrompt, a.Provider, a.Model,
		a.CommunicationStyle, a.ReactionTendency, a.SeniorityLevel, a.IsActive, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAgent retrieves an agent of an organization.
func (s *PostgresStore) GetAgent(ctx context.Context, organizationID, id string) (*model.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+` FROM ai_agents WHERE id = $1 AND organization_id = $2
	`, id, organizationID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListAgents lists an organization's agents.
func (s *PostgresStore) ListAgents(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM ai_agents
		WHERE organization_id = $1 AND (NOT $2 OR is_active)
		ORDER BY created_at, id
	`, organizationID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgent writes an agent's mutable fields.
func (s *PostgresStore) UpdateAgent(ctx context.Context, a *model.Agent) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_agents SET name = $3, system_prompt = $4, provider = $5, model = $6,
			communication_style = $7, reaction_tendency = $8, seniority_level = $9,
			is_active = $10, updated_at = $11
		WHERE id = $1 AND organization_id = $2
	`, a.ID, a.OrganizationID, a.Name, a.SystemPrompt, a.Provider, a.Model,
		a.CommunicationStyle, a.ReactionTendency, a.SeniorityLevel, a.IsActive, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const conversationColumns = `id, organization_id, created_by, title, mode, status,
	message_count, ai_response_count, total_tokens, total_cost, last_sequence,
	participants, emergent_settings, created_at, updated_at`

func (s *PostgresStore) scanConversation(row pgx.Row) (*model.Conversation, error) {
	c := &model.Conversation{}
	var settings []byte
	err := row.Scan(&c.ID, &c.OrganizationID, &c.CreatedBy, &c.Title, &c.Mode, &c.Status,
		&c.MessageCount, &c.AIResponseCount, &c.TotalTokens, &c.TotalCost, &c.LastSequence,
		&c.Participants, &settings, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsed, err := model.ParseEmergentSettings(settings, s.defaults)
	if err != nil {
		s.logger.Warn("falling back to default emergent settings",
			zap.String("conversation_id", c.ID),
			zap.Error(err),
		)
	}
	normalized, changed := parsed.Normalize()
	if changed {
		s.logger.Warn("persisted emergent settings out of range, clamped",
			zap.String("conversation_id", c.ID),
		)
	}
	c.Settings = normalized
	return c, nil
}

// CreateConversation inserts a conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, c.ID, c.OrganizationID, c.CreatedBy, c.Title, c.Mode, c.Status,
		c.MessageCount, c.AIResponseCount, c.TotalTokens, c.TotalCost, c.LastSequence,
		participants, settings, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation of an organization.
func (s *PostgresStore) GetConversation(ctx context.Context, organizationID, id string) (*model.Conversation, error) {
	c, err := s.scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND organization_id = $2
	`, id, organizationID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ListConversations lists an organization's conversations, newest activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, organizationID string, limit, offset int) ([]model.Conversation, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations WHERE organization_id = $1
	`, organizationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE organization_id = $1
		ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3
	`, organizationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		convs = append(convs, *c)
	}
	return convs, total, rows.Err()
}

// UpdateConversation writes the non-aggregate fields.
func (s *PostgresStore) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $3, mode = $4, status = $5,
			participants = $6, emergent_settings = $7, updated_at = $8
		WHERE id = $1 AND organization_id = $2
	`, c.ID, c.OrganizationID, c.Title, c.Mode, c.Status, participants, settings, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `id, conversation_id, organization_id, sender_type, sender_id, sender_name,
	content, sequence_number, status, model, tokens_used, cost, latency_ms,
	is_acknowledgment, round, relevance_score, created_at`

// ListMessages lists messages after a sequence number.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1 AND sequence_number > $2
		ORDER BY sequence_number`
	args := []any{conversationID, afterSequence}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OrganizationID, &m.SenderType, &m.SenderID, &m.SenderName,
			&m.Content, &m.SequenceNumber, &m.Status, &m.Model, &m.TokensUsed, &m.Cost, &m.LatencyMs,
			&m.IsAcknowledgment, &m.Round, &m.RelevanceScore, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessages inserts a batch under a row lock on the conversation, so
// concurrent writers on any replica get gap-free sequence numbers.
func (s *PostgresStore) AppendMessages(ctx context.Context, organizationID, conversationID string, msgs []*model.Message) (*model.Conversation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastSeq int64
	err = tx.QueryRow(ctx, `
		SELECT last_sequence FROM conversations
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, conversationID, organizationID).Scan(&lastSeq)
	if err != nil {
		return nil, notFound(err)
	}

	seqs := make([]int64, len(msgs))
	batch := &pgx.Batch{}
	for i, m := range msgs {
		seqs[i] = lastSeq + int64(i) + 1
		batch.Queue(`
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, m.ID, conversationID, organizationID, m.SenderType, m.SenderID, m.SenderName,
			m.Content, seqs[i], m.Status, m.Model, m.TokensUsed, m.Cost, m.LatencyMs,
			m.IsAcknowledgment, m.Round, m.RelevanceScore, m.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to insert messages: %w", err)
	}

	d := deltaFor(msgs)
	conv, err := s.scanConversation(tx.QueryRow(ctx, `
		UPDATE conversations SET
			last_sequence = $3,
			message_count = message_count + $4,
			ai_response_count = ai_response_count + $5,
			total_tokens = total_tokens + $6,
			total_cost = total_cost + $7,
			updated_at = $8
		WHERE id = $1 AND organization_id = $2
		RETURNING `+conversationColumns,
		conversationID, organizationID, lastSeq+int64(len(msgs)),
		d.messages, d.aiResponses, d.tokens, d.cost, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation aggregates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit messages: %w", err)
	}

	for i, m := range msgs {
		m.SequenceNumber = seqs[i]
	}
	return conv, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
