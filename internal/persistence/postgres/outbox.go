// Package postgres provides pgx-backed persistence for the challenge engine.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/challenge/internal/outbox"
)

// insertOutbox records a domain event in the same transaction as the mutation
// that caused it. The dispatcher delivers it to Kafka afterwards, so a
// transition and its notification commit or roll back together.
func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, partitionKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err = tx.Exec(ctx, stmt,
		aggregateType,
		aggregateID,
		eventType,
		outbox.TopicForEvent(eventType),
		partitionKey,
		body,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
