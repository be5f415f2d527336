package acl

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("known names", func(t *testing.T) {
		s, err := Parse([]string{"deposit", "view_transactions"})
		require.NoError(t, err)
		assert.True(t, s.Has(Deposit))
		assert.True(t, s.Has(ViewTransactions))
		assert.False(t, s.Has(Debit))
		assert.Equal(t, []string{"view_transactions", "deposit"}, s.Names())
	})

	t.Run("typo is rejected", func(t *testing.T) {
		_, err := Parse([]string{"edit_transactions"})
		assert.True(t, errors.Is(err, ErrUnknownCapability))
	})

	t.Run("empty", func(t *testing.T) {
		s, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, Set(0), s)
		assert.Empty(t, s.Names())
	})
}

func TestSetChecks(t *testing.T) {
	s := Of(Deposit, Debit)

	assert.True(t, s.HasAll(Deposit, Debit))
	assert.False(t, s.HasAll(Deposit, OfferCD))
	assert.True(t, s.HasAny(OfferCD, Debit))
	assert.False(t, s.HasAny(OfferCD, FreezeChild))
	assert.False(t, s.Has(Capability("bogus")))
	assert.True(t, s.Union(Of(OfferCD)).Has(OfferCD))

	for _, c := range Capabilities() {
		assert.True(t, All.Has(c), string(c))
	}
	assert.True(t, Valid("manage_loan"))
	assert.False(t, Valid("manage_loans"))
}

func TestSetJSON(t *testing.T) {
	data, err := json.Marshal(Of(FreezeChild, ViewTransactions))
	require.NoError(t, err)
	assert.JSONEq(t, `["view_transactions","freeze_child"]`, string(data))

	var s Set
	require.NoError(t, json.Unmarshal([]byte(`["offer_cd"]`), &s))
	assert.Equal(t, Of(OfferCD), s)

	assert.Error(t, json.Unmarshal([]byte(`["offer_cds"]`), &s))
}

func TestSetSQL(t *testing.T) {
	v, err := Of(Deposit).Value()
	require.NoError(t, err)
	assert.Equal(t, `["deposit"]`, v)

	var s Set
	require.NoError(t, s.Scan([]byte(`["debit","deposit"]`)))
	assert.Equal(t, Of(Deposit, Debit), s)

	require.NoError(t, s.Scan(`["offer_loan"]`))
	assert.Equal(t, Of(OfferLoan), s)

	require.NoError(t, s.Scan(nil))
	assert.Equal(t, Set(0), s)

	assert.Error(t, s.Scan(42))
}
