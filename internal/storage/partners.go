// Package storage provides database access for partner configuration
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Partner represents an RTB partner configuration from the database
type Partner struct {
	ID                  string             `json:"id"`
	Code                string             `json:"code"`
	Name                string             `json:"name"`
	EndpointURL         string             `json:"endpoint_url"`
	APIKey              string             `json:"api_key,omitempty"`
	TimeoutMs           int                `json:"timeout_ms"`
	MinBidAmount        float64            `json:"min_bid_amount"`
	MaxBidAmount        float64            `json:"max_bid_amount"`
	VerticalMultipliers map[string]float64 `json:"vertical_multipliers"`
	Priority            int                `json:"priority"`
	Enabled             bool               `json:"enabled"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

const partnerColumns = `id, code, name, endpoint_url, api_key, timeout_ms,
	       min_bid_amount, max_bid_amount, vertical_multipliers, priority, enabled,
	       created_at, updated_at`

// PartnerStore provides database operations for partner configuration
type PartnerStore struct {
	db *sql.DB
}

// NewPartnerStore creates a new partner store
func NewPartnerStore(db *sql.DB) *PartnerStore {
	return &PartnerStore{db: db}
}

func scanPartner(scan func(dest ...interface{}) error) (*Partner, error) {
	var p Partner
	var multipliersJSON []byte

	err := scan(
		&p.ID,
		&p.Code,
		&p.Name,
		&p.EndpointURL,
		&p.APIKey,
		&p.TimeoutMs,
		&p.MinBidAmount,
		&p.MaxBidAmount,
		&multipliersJSON,
		&p.Priority,
		&p.Enabled,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse JSONB vertical_multipliers
	if len(multipliersJSON) > 0 {
		if err := json.Unmarshal(multipliersJSON, &p.VerticalMultipliers); err != nil {
			return nil, fmt.Errorf("failed to parse vertical_multipliers: %w", err)
		}
	}

	return &p, nil
}

// GetByCode retrieves a partner by its code
func (s *PartnerStore) GetByCode(ctx context.Context, code string) (*Partner, error) {
	query := `
		SELECT ` + partnerColumns + `
		FROM partners
		WHERE code = $1 AND enabled = true
	`

	p, err := scanPartner(s.db.QueryRowContext(ctx, query, code).Scan)
	if err == sql.ErrNoRows {
		return nil, nil // Partner not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query partner: %w", err)
	}

	return p, nil
}

// ListEnabled retrieves all enabled partners ordered by priority
func (s *PartnerStore) ListEnabled(ctx context.Context) ([]*Partner, error) {
	query := `
		SELECT ` + partnerColumns + `
		FROM partners
		WHERE enabled = true
		ORDER BY priority DESC, code
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query partners: %w", err)
	}
	defer rows.Close()

	partners := make([]*Partner, 0, 10)
	for rows.Next() {
		p, err := scanPartner(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner row: %w", err)
		}
		partners = append(partners, p)
	}

	return partners, rows.Err()
}

// Create adds a new partner
func (s *PartnerStore) Create(ctx context.Context, p *Partner) error {
	query := `
		INSERT INTO partners (
			code, name, endpoint_url, api_key, timeout_ms,
			min_bid_amount, max_bid_amount, vertical_multipliers, priority, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	multipliersJSON, err := json.Marshal(p.VerticalMultipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal vertical_multipliers: %w", err)
	}

	err = s.db.QueryRowContext(ctx, query,
		p.Code,
		p.Name,
		p.EndpointURL,
		p.APIKey,
		p.TimeoutMs,
		p.MinBidAmount,
		p.MaxBidAmount,
		multipliersJSON,
		p.Priority,
		p.Enabled,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}

	return nil
}

// Update modifies an existing partner
func (s *PartnerStore) Update(ctx context.Context, p *Partner) error {
	query := `
		UPDATE partners
		SET name = $1, endpoint_url = $2, api_key = $3, timeout_ms = $4,
		    min_bid_amount = $5, max_bid_amount = $6, vertical_multipliers = $7,
		    priority = $8, enabled = $9
		WHERE code = $10
	`

	multipliersJSON, err := json.Marshal(p.VerticalMultipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal vertical_multipliers: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query,
		p.Name,
		p.EndpointURL,
		p.APIKey,
		p.TimeoutMs,
		p.MinBidAmount,
		p.MaxBidAmount,
		multipliersJSON,
		p.Priority,
		p.Enabled,
		p.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update partner: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("partner not found: %s", p.Code)
	}

	return nil
}

// SetEnabled enables or disables a partner
func (s *PartnerStore) SetEnabled(ctx context.Context, code string, enabled bool) error {
	query := `
		UPDATE partners
		SET enabled = $1
		WHERE code = $2
	`

	result, err := s.db.ExecContext(ctx, query, enabled, code)
	if err != nil {
		return fmt.Errorf("failed to set partner enabled: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("partner not found: %s", code)
	}

	return nil
}
