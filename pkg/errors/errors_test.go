package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataContract(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		message   bool
		details   bool
	}{
		{CodeValidation, http.StatusBadRequest, false, true, true},
		{CodeUnauthorized, http.StatusUnauthorized, false, true, false},
		{CodeForbidden, http.StatusForbidden, false, true, false},
		{CodeNotFound, http.StatusNotFound, false, true, false},
		{CodeStateConflict, http.StatusUnprocessableEntity, false, true, true},
		{CodeRateLimit, http.StatusTooManyRequests, false, true, false},
		{CodeInternal, http.StatusInternalServerError, true, false, false},
		{CodeDependency, http.StatusServiceUnavailable, true, false, true},
		{CodeInvalidTransition, http.StatusConflict, false, true, true},
		{CodeStockInsufficient, http.StatusConflict, false, true, true},
		{CodeProximityRejected, http.StatusBadRequest, true, true, true},
		{CodeUpstream, http.StatusInternalServerError, true, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			m := MetadataFor(tt.code)
			assert.Equal(t, tt.status, m.HTTPStatus)
			assert.Equal(t, tt.retryable, m.Retryable)
			assert.Equal(t, tt.message, m.MessageExposed)
			assert.Equal(t, tt.details, m.DetailsAllowed)
			assert.NotEmpty(t, m.PublicMessage)
		})
	}
}

func TestMetadataForUnknownCode(t *testing.T) {
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorConstruction(t *testing.T) {
	e := Newf(CodeStockInsufficient, "Stock insuficiente para %s", "Pizza")
	assert.Equal(t, CodeStockInsufficient, e.Code())
	assert.Equal(t, "Stock insuficiente para Pizza", e.Message())
	assert.Nil(t, e.Details())
	assert.Equal(t, "STOCK_INSUFFICIENT: Stock insuficiente para Pizza", e.Error())

	e.WithDetails(map[string]any{"product": "Pizza"})
	assert.Equal(t, map[string]any{"product": "Pizza"}, e.Details())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "save leg")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "CONFLICT: save leg: boom", wrapped.Error())
	assert.NoError(t, Wrap(CodeConflict, nil, "x").Unwrap())

	var nilErr *Error
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("x"))
	assert.Empty(t, nilErr.Error())
}

func TestIsCodeMatchesOutermostTypedError(t *testing.T) {
	inner := New(CodeStockInsufficient, "Stock insuficiente para Pizza")
	outer := Wrap(CodeDependency, fmt.Errorf("reserve: %w", inner), "create order")

	assert.True(t, IsCode(fmt.Errorf("reserve: %w", inner), CodeStockInsufficient))
	assert.True(t, IsCode(outer, CodeDependency))
	assert.False(t, IsCode(outer, CodeStockInsufficient))
	assert.False(t, IsCode(nil, CodeInternal))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestDiagnoseCollectsChainAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: "wallet_transactions_leg_uniq"}
	err := Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "apply payout")

	d := Diagnose(err)
	assert.Equal(t, CodeConflict, d.Code)
	assert.Len(t, d.Chain, 3)
	require.NotNil(t, d.PG)
	assert.Equal(t, "23505", d.PG.Code)

	fields := d.Fields()
	assert.Equal(t, "wallet_transactions_leg_uniq", fields["pg_constraint"])
	assert.Equal(t, CodeConflict, fields["error_code"])
	assert.NotContains(t, fields, "pg_table")
}

func TestDiagnoseWithoutPostgres(t *testing.T) {
	d := Diagnose(stdErrors.New("plain"))
	assert.Nil(t, d.PG)
	assert.Empty(t, d.Code)
	assert.Equal(t, map[string]any{"error_chain": []string{"*errors.errorString: plain"}}, d.Fields())
	assert.Equal(t, Diagnosis{}, Diagnose(nil))
}
