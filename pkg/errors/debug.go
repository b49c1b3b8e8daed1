package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis is the log-side view of an error: its chain and, when a Postgres
// driver error sits in the chain, the server's diagnostic fields.
type Diagnosis struct {
	Message string
	Code    Code
	Chain   []string
	PG      *PGDiagnostic
}

type PGDiagnostic struct {
	Code       string
	Message    string
	Detail     string
	Table      string
	Column     string
	Constraint string
}

// Diagnose walks err's Unwrap chain. Both the pgx and the lib/pq error types
// are recognised since either driver can surface through gorm.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	d := Diagnosis{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PG = &PGDiagnostic{
			Code:       pgxErr.Code,
			Message:    pgxErr.Message,
			Detail:     pgxErr.Detail,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Constraint: pgxErr.ConstraintName,
		}
	case errors.As(err, &pqErr):
		d.PG = &PGDiagnostic{
			Code:       string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Constraint: pqErr.Constraint,
		}
	}
	return d
}

// Fields flattens the diagnosis for structured logging, leaving out empty
// Postgres fields.
func (d Diagnosis) Fields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if d.PG == nil {
		return fields
	}
	for key, value := range map[string]string{
		"pg_code":       d.PG.Code,
		"pg_message":    d.PG.Message,
		"pg_detail":     d.PG.Detail,
		"pg_table":      d.PG.Table,
		"pg_column":     d.PG.Column,
		"pg_constraint": d.PG.Constraint,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
