package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ccmart/ccmart-go/internal/database"
	"github.com/ccmart/ccmart-go/internal/models"
)

const agentColumns = `id, name, phone, email, is_active, is_available, created_at, updated_at`

func scanAgent(row rowScanner) (*models.DeliveryAgent, error) {
	agent := &models.DeliveryAgent{}
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Phone,
		&agent.Email,
		&agent.IsActive,
		&agent.IsAvailable,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// CreateAgent registers a delivery agent. New agents start active and
// available.
func CreateAgent(ctx context.Context, db *sql.DB, name, phone, email string) (*models.DeliveryAgent, error) {
	agent, err := scanAgent(db.QueryRowContext(ctx,
		`INSERT INTO delivery_agents (name, phone, email, is_active, is_available, created_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, TRUE, NOW(), NOW())
		 RETURNING `+agentColumns,
		name, phone, email))
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

func GetAgent(ctx context.Context, db *sql.DB, id int64) (*models.DeliveryAgent, error) {
	agent, err := scanAgent(db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM delivery_agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func agentByID(ctx context.Context, tx *sql.Tx, id int64) (*models.DeliveryAgent, error) {
	agent, err := scanAgent(tx.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM delivery_agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns agents, optionally filtered to active and/or available
// ones.
func ListAgents(ctx context.Context, db *sql.DB, onlyActive, onlyAvailable bool) ([]models.DeliveryAgent, error) {
	query := `SELECT ` + agentColumns + ` FROM delivery_agents WHERE TRUE`
	if onlyActive {
		query += ` AND is_active`
	}
	if onlyAvailable {
		query += ` AND is_available`
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.DeliveryAgent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return agents, nil
}

func SetAgentAvailability(ctx context.Context, db *sql.DB, id int64, available bool) (*models.DeliveryAgent, error) {
	agent, err := scanAgent(db.QueryRowContext(ctx,
		`UPDATE delivery_agents
		 SET is_available = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+agentColumns,
		available, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAgentNotFound
		}
		return nil, fmt.Errorf("update agent availability: %w", err)
	}
	return agent, nil
}
