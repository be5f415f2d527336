package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/models"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tx(id int64, typ models.TxType, amount string, at time.Time) models.Transaction {
	return models.Transaction{ID: id, ChildID: 1, Type: typ, Amount: dec(amount), Timestamp: at}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func history() []models.Transaction {
	return []models.Transaction{
		tx(1, models.Credit, "100.00", day0.Add(1*time.Hour)),
		tx(2, models.Debit, "30.50", day0.Add(2*time.Hour)),
		tx(3, models.Credit, "12.25", day0.Add(3*time.Hour)),
		tx(4, models.Debit, "100.00", day0.Add(4*time.Hour)),
		tx(5, models.Credit, "8.00", day0.Add(5*time.Hour)),
	}
}

func TestBalance(t *testing.T) {
	t.Run("sum of credits minus debits", func(t *testing.T) {
		bal, err := Balance(history())
		require.NoError(t, err)
		assertDec(t, "-10.25", bal)
	})

	t.Run("input order does not matter", func(t *testing.T) {
		h := history()
		reversed := []models.Transaction{h[4], h[3], h[2], h[1], h[0]}
		shuffled := []models.Transaction{h[2], h[0], h[4], h[1], h[3]}

		want, _ := Balance(h)
		for _, in := range [][]models.Transaction{reversed, shuffled} {
			got, err := Balance(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
		}
	})

	t.Run("empty history", func(t *testing.T) {
		bal, err := Balance(nil)
		require.NoError(t, err)
		assert.True(t, bal.IsZero())
	})

	t.Run("rejects bad entries", func(t *testing.T) {
		cases := []models.Transaction{
			tx(1, models.Credit, "-5", day0),
			tx(1, models.Debit, "0", day0),
			tx(1, models.TxType("refund"), "5", day0),
		}
		for _, c := range cases {
			_, err := Balance([]models.Transaction{c})
			assert.True(t, errors.Is(err, ErrInvalidInput))
		}
	})
}

func TestRunning(t *testing.T) {
	h := history()
	rows, err := Running([]models.Transaction{h[3], h[1], h[4], h[0], h[2]})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	want := []string{"100", "69.5", "81.75", "-18.25", "-10.25"}
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.ID)
		assertDec(t, want[i], row.Balance)

		prefix, _ := Balance(h[:i+1])
		assert.True(t, prefix.Equal(row.Balance))
	}
}

func TestRunningTieBreaksOnID(t *testing.T) {
	same := day0.Add(time.Hour)
	rows, err := Running([]models.Transaction{
		tx(9, models.Debit, "5", same),
		tx(2, models.Credit, "10", same),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows[0].ID)
	assertDec(t, "10", rows[0].Balance)
	assertDec(t, "5", rows[1].Balance)
}

func TestBuildStatement(t *testing.T) {
	t.Run("descending page keeps full history balances", func(t *testing.T) {
		st, err := BuildStatement(history(), Descending, 1, 2)
		require.NoError(t, err)

		assert.Equal(t, 5, st.Total)
		assertDec(t, "-10.25", st.Balance)
		require.Len(t, st.Transactions, 2)
		assert.Equal(t, int64(4), st.Transactions[0].ID)
		assertDec(t, "-18.25", st.Transactions[0].Balance)
		assert.Equal(t, int64(3), st.Transactions[1].ID)
		assertDec(t, "81.75", st.Transactions[1].Balance)
	})

	t.Run("ascending without limit", func(t *testing.T) {
		st, err := BuildStatement(history(), Ascending, 0, 0)
		require.NoError(t, err)
		require.Len(t, st.Transactions, 5)
		assert.Equal(t, int64(1), st.Transactions[0].ID)
	})

	t.Run("offset past the end", func(t *testing.T) {
		st, err := BuildStatement(history(), Ascending, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, st.Transactions)
		assertDec(t, "-10.25", st.Balance)
	})

	t.Run("negative paging is rejected", func(t *testing.T) {
		_, err := BuildStatement(history(), Ascending, -1, 0)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, Descending, o)

	o, err = ParseOrder("asc")
	require.NoError(t, err)
	assert.Equal(t, Ascending, o)

	_, err = ParseOrder("sideways")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
