// Package sqldb executes database steps as raw SQL against a target
// database opened through gorm.
package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
)

// Executor runs database steps. Actions carry either "query" (rows are
// returned and asserted) or "exec" (a statement whose affected row count
// may be asserted).
type Executor struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewExecutor creates a database executor over the target database.
func NewExecutor(db *gorm.DB, log logger.Logger) *Executor {
	return &Executor{
		db:     db,
		logger: log,
	}
}

// Execute runs the step's statement and checks the result.
func (e *Executor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	if inv.Step == nil {
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "invocation has no step")
	}
	action := inv.Step.Action
	args := arguments(action["args"])

	if stmt := strings.TrimSpace(action.String("exec")); stmt != "" {
		return e.exec(ctx, inv, stmt, args)
	}
	query := strings.TrimSpace(action.String("query"))
	if query == "" {
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "step %d has no query", inv.Step.Index)
	}

	var rows []map[string]interface{}
	if err := e.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return backend.Outcome{}, classify(ctx, "query failed", err)
	}

	normalized, err := backend.Normalize(rows)
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "failed to encode rows", err)
	}
	if normalized == nil {
		normalized = []interface{}{}
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "failed to encode rows", err)
	}

	e.logger.Debug(ctx, "database step executed", map[string]interface{}{
		"step":    inv.Step.Index,
		"rows":    len(rows),
		"attempt": inv.Attempt,
	})

	if err := check(inv, len(rows), normalized, payload); err != nil {
		var f *backend.Failure
		if errors.As(err, &f) {
			f.Artifact = payload
			f.ArtifactType = "application/json"
		}
		return backend.Outcome{}, err
	}

	return backend.Outcome{
		Detail:       fmt.Sprintf("%d rows", len(rows)),
		Artifact:     payload,
		ArtifactType: "application/json",
	}, nil
}

func (e *Executor) exec(ctx context.Context, inv backend.Invocation, stmt string, args []interface{}) (backend.Outcome, error) {
	res := e.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return backend.Outcome{}, classify(ctx, "statement failed", res.Error)
	}
	if want, ok := inv.Step.Action.Int("expect_affected"); ok && int64(want) != res.RowsAffected {
		return backend.Outcome{}, backend.Failuref(backend.FailureAssertion, "expected %d affected rows, got %d", want, res.RowsAffected)
	}
	return backend.Outcome{Detail: fmt.Sprintf("%d rows affected", res.RowsAffected)}, nil
}

func check(inv backend.Invocation, count int, rows interface{}, payload []byte) error {
	action := inv.Step.Action

	if want, ok := action.Int("expect_rows"); ok && count != want {
		return backend.Failuref(backend.FailureAssertion, "expected %d rows, got %d", want, count)
	}
	if expr := action.String("expect_jq"); expr != "" {
		ok, err := backend.EvalJQ(expr, rows)
		if err != nil {
			return backend.WrapFailure(backend.FailureAssertion, "jq assertion failed", err)
		}
		if !ok {
			return backend.Failuref(backend.FailureAssertion, "jq assertion %q is false", expr)
		}
	}
	return backend.CheckFingerprint(inv.Step, payload)
}

func classify(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return backend.WrapFailure(backend.FailureTimeout, msg, err)
	}
	return backend.WrapFailure(backend.FailureInfrastructure, msg, err)
}

func arguments(v interface{}) []interface{} {
	switch a := v.(type) {
	case []interface{}:
		return a
	case nil:
		return nil
	default:
		return []interface{}{a}
	}
}
