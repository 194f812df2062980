package deposit

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/ledger"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/rates"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/jmercer/bankcore/pkg/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

// clock is a settable time source shared by the ledger and both deposit
// engines under test.
type clock struct {
	now time.Time
}

func (c *clock) fn() time.Time { return c.now }

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type fixture struct {
	st  *storetest.Store
	clk *clock
	ldg *ledger.Service
	fd  *FDService
	rd  *RDService
}

func newFixture() *fixture {
	st := storetest.New()
	clk := &clock{now: startTime}
	cfg := rates.Default()
	ldg := ledger.NewService(st, cfg).WithClock(clk.fn)
	return &fixture{
		st:  st,
		clk: clk,
		ldg: ldg,
		fd:  NewFDService(ldg, cfg).WithClock(clk.fn),
		rd:  NewRDService(ldg, cfg).WithClock(clk.fn),
	}
}

func (f *fixture) seedAccount(number string, balance int64) *models.Account {
	a := &models.Account{
		ID:                     uuid.New(),
		AccountNumber:          number,
		CustomerKey:            "cust-1",
		Type:                   models.AccountTypeSavings,
		Balance:                dec(balance),
		TodayTransactionAmount: decimal.Zero,
		MonthTransactionAmount: decimal.Zero,
		LastDailyReset:         f.clk.now,
		LastMonthlyReset:       f.clk.now,
		Active:                 true,
		FreezeReason:           models.FreezeReasonNone,
		CreatedAt:              f.clk.now,
		UpdatedAt:              f.clk.now,
	}
	if err := f.st.CreateAccount(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	a, err := f.st.GetAccount(context.Background(), number)
	require.NoError(t, err)
	return a.Balance
}

func TestCreateFixedDepositCumulative(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 36, models.PayoutModeCumulative, "", "R. Mehta")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fd.FDNumber, "FD2026"))
	assert.True(t, fd.InterestRate.Equal(decimal.NewFromFloat(7.5)))
	assert.Equal(t, models.FDStatusActive, fd.Status)
	assert.Equal(t, startTime.AddDate(0, 36, 0), fd.MaturityDate)

	// 100000 compounded monthly at 7.5% over 36 months.
	want := 100000 * math.Pow(1+0.075/12, 36)
	assert.InDelta(t, want, fd.MaturityAmount.InexactFloat64(), 0.05)

	assert.True(t, f.balance(t, "SAV0000000001").Equal(dec(100000)))

	txns, err := f.st.GetTransactionsForAccount(context.Background(), "SAV0000000001")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionTypeFDDeposit, txns[0].Type)
	assert.Equal(t, models.TransactionStatusCompleted, txns[0].Status)

	persisted, err := f.fd.Get(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.True(t, persisted.Principal.Equal(dec(100000)))
}

func TestCreateFixedDepositNonCumulative(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)
	f.seedAccount("SAV0000000002", 5000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 24, models.PayoutModeQuarterly, "SAV0000000002", "")
	require.NoError(t, err)

	// Interest is paid out along the way; maturity returns the principal.
	assert.True(t, fd.MaturityAmount.Equal(dec(100000)))
	assert.True(t, fd.InterestRate.Equal(decimal.NewFromFloat(7.25)))
}

func TestCreateFixedDepositUnknownTenure(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	_, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 3, models.PayoutModeCumulative, "", "")
	assert.True(t, ledger.IsRuleError(err))
	assert.Empty(t, f.st.FixedDeposits)
}

func TestCreateFixedDepositMissingPayoutAccount(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	_, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 24, models.PayoutModeMonthly, "SAV9999999999", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateFixedDepositInsufficientFunds(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 50000)

	_, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 12, models.PayoutModeCumulative, "", "")
	assert.True(t, ledger.IsRuleError(err))
	assert.Empty(t, f.st.FixedDeposits)
	assert.True(t, f.balance(t, "SAV0000000001").Equal(dec(50000)))
}

func TestInterestPayoutNotDue(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)
	f.seedAccount("SAV0000000002", 5000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 24, models.PayoutModeMonthly, "SAV0000000002", "")
	require.NoError(t, err)

	res, err := f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.True(t, res.Interest.IsZero())
	assert.True(t, f.balance(t, "SAV0000000002").Equal(dec(5000)))
}

func TestInterestPayoutMonthly(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)
	f.seedAccount("SAV0000000002", 5000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 24, models.PayoutModeMonthly, "SAV0000000002", "")
	require.NoError(t, err)

	// Two whole months elapse: two monthly periods of simple interest at
	// 7.25% on 100000 is 100000 * 0.0725 * 2/12.
	f.clk.now = startTime.AddDate(0, 2, 0)
	res, err := f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.True(t, res.Due)
	assert.Equal(t, 2, res.Periods)
	assert.True(t, res.Interest.Equal(decimal.NewFromFloat(1208.33)), "got %s", res.Interest)

	assert.True(t, f.balance(t, "SAV0000000002").Equal(decimal.NewFromFloat(6208.33)))

	persisted, err := f.fd.Get(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.True(t, persisted.TotalInterestPaid.Equal(res.Interest))
	require.NotNil(t, persisted.LastPayoutDate)
	assert.Equal(t, startTime.AddDate(0, 2, 0), *persisted.LastPayoutDate)

	// Immediately again: nothing further is due, nothing moves.
	res, err = f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.True(t, f.balance(t, "SAV0000000002").Equal(decimal.NewFromFloat(6208.33)))
}

func TestInterestPayoutStopsAtMaturity(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)
	f.seedAccount("SAV0000000002", 5000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 12, models.PayoutModeMonthly, "SAV0000000002", "")
	require.NoError(t, err)

	// Well past maturity: only the twelve months of the tenure accrue, at
	// 7.0% on 100000 that is exactly 7000.
	f.clk.now = startTime.AddDate(0, 20, 0)
	res, err := f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.True(t, res.Due)
	assert.Equal(t, 12, res.Periods)
	assert.True(t, res.Interest.Equal(dec(7000)), "got %s", res.Interest)
	assert.True(t, f.balance(t, "SAV0000000002").Equal(dec(12000)))

	persisted, err := f.fd.Get(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	require.NotNil(t, persisted.LastPayoutDate)
	assert.Equal(t, fd.MaturityDate, *persisted.LastPayoutDate)

	// Another call accrues nothing further, no matter how late.
	f.clk.now = startTime.AddDate(0, 30, 0)
	res, err = f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.True(t, f.balance(t, "SAV0000000002").Equal(dec(12000)))
}

func TestInterestPayoutNotApplicableToCumulative(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 24, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)

	f.clk.now = startTime.AddDate(0, 3, 0)
	_, err = f.fd.ProcessInterestPayout(context.Background(), fd.FDNumber)
	assert.True(t, ledger.IsRuleError(err))
}

func TestClosePremature(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 12, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)

	// Six months in: the deposit has earned at one point below the 7.0%
	// contract rate over the elapsed fraction of the tenure, and 1% of that
	// value is forfeited.
	f.clk.now = startTime.AddDate(0, 6, 0)
	res, err := f.fd.ClosePremature(context.Background(), fd.FDNumber, "medical emergency")
	require.NoError(t, err)

	elapsed := f.clk.now.Sub(startTime).Hours() / 24
	total := fd.MaturityDate.Sub(startTime).Hours() / 24
	wantValue := 100000 * math.Pow(1+0.06/12, elapsed/total*12)
	assert.InDelta(t, wantValue, res.CurrentValue.InexactFloat64(), 0.05)
	assert.True(t, res.Penalty.Equal(res.CurrentValue.Mul(decimal.NewFromFloat(0.01)).Round(2)))
	assert.True(t, res.Payout.Equal(res.CurrentValue.Sub(res.Penalty)))

	assert.True(t, f.balance(t, "SAV0000000001").Equal(dec(100000).Add(res.Payout)))

	persisted, err := f.fd.Get(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.Equal(t, models.FDStatusPrematureClosed, persisted.Status)
	assert.True(t, persisted.ClosurePenalty.Equal(res.Penalty))
	assert.True(t, persisted.ClosurePayout.Equal(res.Payout))
	require.NotNil(t, persisted.ClosedAt)

	_, err = f.fd.ProcessMaturity(context.Background(), fd.FDNumber)
	assert.True(t, ledger.IsStateError(err))
}

func TestClosePrematureAfterMaturity(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 12, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)

	f.clk.now = fd.MaturityDate
	_, err = f.fd.ClosePremature(context.Background(), fd.FDNumber, "late")
	assert.True(t, ledger.IsRuleError(err))
}

func TestProcessMaturity(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	fd, err := f.fd.Create(context.Background(), "SAV0000000001", dec(100000), 12, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)

	_, err = f.fd.ProcessMaturity(context.Background(), fd.FDNumber)
	assert.True(t, ledger.IsRuleError(err), "maturity before the maturity date must be refused")

	f.clk.now = fd.MaturityDate
	res, err := f.fd.ProcessMaturity(context.Background(), fd.FDNumber)
	require.NoError(t, err)

	assert.True(t, f.balance(t, "SAV0000000001").Equal(dec(100000).Add(fd.MaturityAmount)))

	txn, err := f.st.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeFDMaturity, txn.Type)

	persisted, err := f.fd.Get(context.Background(), fd.FDNumber)
	require.NoError(t, err)
	assert.Equal(t, models.FDStatusMatured, persisted.Status)

	_, err = f.fd.ProcessMaturity(context.Background(), fd.FDNumber)
	assert.True(t, ledger.IsStateError(err))
}

func TestProcessMaturitySweep(t *testing.T) {
	f := newFixture()
	f.seedAccount("SAV0000000001", 200000)

	short, err := f.fd.Create(context.Background(), "SAV0000000001", dec(50000), 12, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)
	long, err := f.fd.Create(context.Background(), "SAV0000000001", dec(50000), 36, models.PayoutModeCumulative, "", "")
	require.NoError(t, err)

	f.clk.now = startTime.AddDate(0, 12, 0)
	results, err := f.fd.ProcessMaturitySweep(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, short.FDNumber, results[0].FDNumber)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[0].TransactionID)

	matured, err := f.fd.Get(context.Background(), short.FDNumber)
	require.NoError(t, err)
	assert.Equal(t, models.FDStatusMatured, matured.Status)

	stillActive, err := f.fd.Get(context.Background(), long.FDNumber)
	require.NoError(t, err)
	assert.Equal(t, models.FDStatusActive, stillActive.Status)
}

func TestMonthsBetween(t *testing.T) {
	from := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, monthsBetween(from, from))
	assert.Equal(t, 0, monthsBetween(from, from.AddDate(0, 0, 20)))
	assert.Equal(t, 1, monthsBetween(from, from.AddDate(0, 1, 0)))
	// A month has not elapsed until the day of month is reached.
	assert.Equal(t, 0, monthsBetween(from, time.Date(2026, time.April, 9, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 13, monthsBetween(from, from.AddDate(1, 1, 5)))
	assert.Equal(t, 0, monthsBetween(from, from.AddDate(0, 0, -5)))
}

func TestCompoundMonthlyKnownValue(t *testing.T) {
	// 10000 at 12% for 12 months doubles the monthly rate to a clean 1%.
	got := compoundMonthly(dec(10000), dec(12), 12)
	assert.InDelta(t, 10000*math.Pow(1.01, 12), got.InexactFloat64(), 0.01)
}
