// Package campaigns holds the campaign definitions shipped with the
// engine binaries and the entity types they mail to.
package campaigns

import (
	"context"
	"database/sql"
	"time"

	"github.com/ignite/drip-engine/internal/drip"
)

// Customer is the subscriber entity behind the onboarding campaign.
type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailAddress satisfies the delivery package's Addressable.
func (c *Customer) EmailAddress() string { return c.Email }

// NewCustomerResolver returns the entity resolver for the "customer"
// type, reading from the customers table.
func NewCustomerResolver(db *sql.DB) drip.EntityResolver {
	return func(ctx context.Context, id string) (any, error) {
		var c Customer
		err := db.QueryRowContext(ctx,
			`SELECT id, email, name, created_at FROM customers WHERE id = $1`, id,
		).Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, &drip.NotFoundError{Kind: "customer", Key: id}
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}
