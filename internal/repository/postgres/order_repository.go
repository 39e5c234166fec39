package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository reads orders owned by the order service. It never writes.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OrderRepository) FindOrder(ctx context.Context, reference string) (*payment.Order, error) {
	var (
		o     payment.Order
		total string
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT reference, total::text, currency, customer_email, customer_name, customer_phone
		 FROM orders WHERE reference = $1`, reference,
	).Scan(&o.Reference, &total, &o.Total.Currency, &o.Customer.Email, &o.Customer.Name, &o.Customer.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", reference, domainErrors.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("find order %s: %w", reference, err)
	}

	minor, err := payment.ParseMajor(total, o.Total.Currency)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", reference, err)
	}
	o.Total = payment.NewAmount(minor, o.Total.Currency)
	return &o, nil
}
