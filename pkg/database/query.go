package database

import (
	"context"
	stdsql "database/sql"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Builder returns an ent SQL builder for the Postgres dialect.
func Builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.Postgres)
}

// Exec runs a statement built with Builder and returns the affected rows.
func (c *Client) Exec(ctx context.Context, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	var res stdsql.Result
	if err := c.driver.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Query runs a SELECT built with Builder. The caller closes the rows.
func (c *Client) Query(ctx context.Context, q entsql.Querier) (*entsql.Rows, error) {
	query, args := q.Query()
	rows := &entsql.Rows{}
	if err := c.driver.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
