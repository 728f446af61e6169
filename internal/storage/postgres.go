package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trafficgate/internal/config"
)

type Store struct {
	pool *pgxpool.Pool
}

// CampaignRow is the persisted campaign plus its applicable rules,
// already ordered by rule priority.
type CampaignRow struct {
	ID       int64
	Slug     string
	Name     string
	Mode     string // redirect | proxy | iframe
	SafeURL  string
	MoneyURL string
	Status   string // draft | active | paused
	Settings SettingsRow
	Rules    []RuleRow
}

// SettingsRow mirrors the campaigns.settings jsonb column.
type SettingsRow struct {
	ABEnabled        bool     `json:"ab_enabled"`
	ABPercent        int      `json:"ab_percent"`
	PixelID          string   `json:"pixel_id"`
	RedirectDelay    int      `json:"redirect_delay"` // seconds
	ReferrerPolicy   string   `json:"referrer_policy"` // any | allow_list | block_empty
	AllowedReferrers []string `json:"allowed_referrers"`
	GeoAllow         []string `json:"geo_allow"`
	DeviceAllow      []string `json:"device_allow"`
	TimeWindow       string   `json:"time_window"` // "HH:MM-HH:MM", empty = always
	Timezone         string   `json:"timezone"`
}

type RuleRow struct {
	ID        int64
	Type      string
	Condition string
	Param     string
	Value     string
	Action    string
	Priority  int
	Status    string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadCampaigns loads all non-draft campaigns with their applicable
// active rules: campaign-scoped rows plus globally applicable ones.
// Paused campaigns are included so the engine can route them to safe.
func (s *Store) LoadCampaigns(ctx context.Context) ([]CampaignRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.slug, c.name, c.mode, c.safe_url, c.money_url, c.status, c.settings,
		       r.id, r.rule_type, r.condition, r.param, r.value, r.action, r.priority, r.status
		FROM campaigns c
		LEFT JOIN rules r
		  ON (r.campaign_id = c.id OR r.applies_to_all)
		 AND r.status = 'active'
		WHERE c.status <> 'draft'
		ORDER BY c.id, r.priority
	`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := map[int64]*CampaignRow{}
	var order []int64

	for rows.Next() {
		var (
			id                                     int64
			slug, name, mode, safeURL, moneyURL    string
			status                                 string
			settingsRaw                            []byte
			ruleID                                 sql.NullInt64
			ruleType, cond, param, val, act, rStat sql.NullString
			prio                                   sql.NullInt32
		)
		if err := rows.Scan(&id, &slug, &name, &mode, &safeURL, &moneyURL, &status, &settingsRaw,
			&ruleID, &ruleType, &cond, &param, &val, &act, &prio, &rStat); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		c, ok := campaigns[id]
		if !ok {
			c = &CampaignRow{
				ID:       id,
				Slug:     slug,
				Name:     name,
				Mode:     mode,
				SafeURL:  safeURL,
				MoneyURL: moneyURL,
				Status:   status,
			}
			if len(settingsRaw) > 0 {
				if err := json.Unmarshal(settingsRaw, &c.Settings); err != nil {
					return nil, fmt.Errorf("campaign %d settings: %w", id, err)
				}
			}
			campaigns[id] = c
			order = append(order, id)
		}

		if ruleID.Valid {
			c.Rules = append(c.Rules, RuleRow{
				ID:        ruleID.Int64,
				Type:      ruleType.String,
				Condition: cond.String,
				Param:     param.String,
				Value:     val.String,
				Action:    act.String,
				Priority:  int(prio.Int32),
				Status:    rStat.String,
			})
		}
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]CampaignRow, 0, len(order))
	for _, id := range order {
		out = append(out, *campaigns[id])
	}
	return out, nil
}

func (s *Store) ListenChannel() string {
	return "tg_campaign_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
