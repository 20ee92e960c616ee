package narrative

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"storyweave/internal/types"
)

// CampaignStore persists the campaign-wide narrative element set in
// SQLite so elements survive across sessions. One row per element, keyed
// by campaign and normalized name.
type CampaignStore struct {
	mu sync.Mutex
	db *sql.DB
}

const campaignSchema = `
CREATE TABLE IF NOT EXISTS narrative_elements (
	campaign_id     TEXT NOT NULL,
	name_key        TEXT NOT NULL,
	element_json    TEXT NOT NULL,
	updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (campaign_id, name_key)
);
CREATE INDEX IF NOT EXISTS idx_elements_campaign ON narrative_elements(campaign_id);
`

// OpenCampaignStore opens (creating if needed) the campaign database at
// path. Use ":memory:" for tests.
func OpenCampaignStore(path string) (*CampaignStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create campaign db dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open campaign db: %w", err)
	}
	if _, err := db.Exec(campaignSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init campaign schema: %w", err)
	}
	return &CampaignStore{db: db}, nil
}

// SaveElements upserts the given elements for a campaign.
func (s *CampaignStore) SaveElements(campaignID string, els []types.NarrativeElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO narrative_elements (campaign_id, name_key, element_json, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(campaign_id, name_key)
		DO UPDATE SET element_json = excluded.element_json, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, el := range els {
		data, err := json.Marshal(el)
		if err != nil {
			return fmt.Errorf("marshal element %q: %w", el.Name, err)
		}
		if _, err := stmt.Exec(campaignID, normalizeName(el.Name), string(data)); err != nil {
			return fmt.Errorf("upsert element %q: %w", el.Name, err)
		}
	}
	return tx.Commit()
}

// LoadElements returns every element stored for a campaign.
func (s *CampaignStore) LoadElements(campaignID string) ([]types.NarrativeElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT element_json FROM narrative_elements WHERE campaign_id = ? ORDER BY name_key`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	defer rows.Close()

	var out []types.NarrativeElement
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		var el types.NarrativeElement
		if err := json.Unmarshal([]byte(raw), &el); err != nil {
			return nil, fmt.Errorf("decode element: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *CampaignStore) Close() error {
	return s.db.Close()
}
