package execution

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-authority/internal/domain"
)

func TestDispatcherBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.onboard(t, domain.ModeTest)
	_, err := f.ledger.Credit(ctx, "USDC", d("1000"))
	require.NoError(t, err)

	disp := NewDispatcher(f.factory, 4, zerolog.Nop())
	reqs := make([]Request, 20)
	for i := range reqs {
		reqs[i] = Request{Pair: "SOL/USDC", Side: domain.SideBuy, Amount: d("100")}
	}
	results, err := disp.ExecuteBatch(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	// Each buy debits 100.3 USDC, so exactly nine fit in 1000.
	simulated := 0
	for _, r := range results {
		if r.Record.Status == domain.StatusSimulated {
			simulated++
			assert.Nil(t, r.Err)
		} else {
			assert.Error(t, r.Err)
			assert.NotEmpty(t, r.Error)
		}
	}
	assert.Equal(t, 9, simulated)

	usdc, err := f.ledger.Balance(ctx, "USDC")
	require.NoError(t, err)
	assert.False(t, usdc.IsNegative())
	assert.True(t, usdc.Equal(d("97.3")), "got %s", usdc)

	n, err := f.trail.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(reqs)), n, "exactly one audit record per request")

	disp.Close()
	_, err = disp.ExecuteBatch(ctx, reqs)
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

// Every record carries the mode of the snapshot its handler was built from, no
// matter how mode switches interleave with executions.
func TestProperty_RecordModeMatchesSnapshot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 5
	properties := gopter.NewProperties(parameters)

	properties.Property("mode_used equals the handler's bound mode", prop.ForAll(
		func(switches []bool) bool {
			f := newFixture(t)
			ctx := context.Background()
			f.onboard(t, domain.ModeTest)
			if _, err := f.ledger.Credit(ctx, "USDC", d("100000")); err != nil {
				return false
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, prod := range switches {
					target := domain.ModeTest
					if prod {
						target = domain.ModeProduction
					}
					_, _ = f.mgr.SwitchMode(ctx, target)
				}
			}()

			type outcome struct {
				mode    domain.OperatingMode
				version int64
				rec     domain.TransactionRecord
			}
			outcomes := make(chan outcome, 4*len(switches))
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range switches {
						h, err := f.factory.GetHandler(ctx)
						if err != nil {
							continue
						}
						rec, _ := h.ExecuteSwap(ctx, "SOL/USDC", domain.SideBuy, d("1"))
						outcomes <- outcome{mode: h.Mode(), version: h.ConfigVersion(), rec: rec}
					}
				}()
			}
			wg.Wait()
			close(outcomes)

			for o := range outcomes {
				if o.rec.ModeUsed != o.mode || o.rec.ConfigVersion != o.version {
					return false
				}
				if o.mode == domain.ModeTest && o.rec.Status == domain.StatusExecuted {
					return false
				}
				if o.mode == domain.ModeProduction && o.rec.Status == domain.StatusSimulated {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}
