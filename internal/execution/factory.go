package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-authority/internal/audit"
	"trading-authority/internal/domain"
	"trading-authority/internal/ledger"
	"trading-authority/internal/monitor"
	"trading-authority/internal/settings"
	"trading-authority/internal/settlement"
	"trading-authority/pkg/logging"
)

// StatusReader yields the latest committed status snapshot.
type StatusReader interface {
	Status(ctx context.Context) (domain.StatusSnapshot, error)
}

// ConfigReader reads plaintext configuration values.
type ConfigReader interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// Deps are the services a Factory injects into the handlers it builds.
type Deps struct {
	Status  StatusReader
	Config  ConfigReader
	Trail   *audit.Trail
	Ledger  *ledger.Ledger
	Prices  *ledger.PriceBook
	Venue   settlement.Settlement // nil leaves PRODUCTION unable to settle
	Metrics *monitor.Metrics
	Logger  zerolog.Logger
}

// Factory builds one Handler per request from one status snapshot.
type Factory struct {
	deps     Deps
	defaults Params
	logger   zerolog.Logger
}

// NewFactory wires a Factory.
func NewFactory(deps Deps, defaults Params) *Factory {
	return &Factory{
		deps:     deps,
		defaults: defaults,
		logger:   logging.Component(deps.Logger, "execution"),
	}
}

// GetHandler reads the status exactly once and returns a handler bound to that mode.
// Later mode switches never affect a handler already returned. Reads run detached from
// cancellation so a cancelled caller still gets a handler that records the attempt;
// a parameter read failure is bound into the handler and recorded the same way.
func (f *Factory) GetHandler(ctx context.Context) (Handler, error) {
	readCtx := context.WithoutCancel(ctx)
	snap, err := f.deps.Status.Status(readCtx)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	params, paramsErr := f.resolveParams(readCtx)
	if paramsErr != nil {
		f.logger.Error().Err(paramsErr).Msg("trading parameters unreadable; attempts will fail")
		params = f.defaults
	}

	b := base{
		mode:      snap.OperatingMode,
		version:   snap.ConfigurationVersion,
		params:    params,
		paramsErr: paramsErr,
		trail:     f.deps.Trail,
		metrics:   f.deps.Metrics,
	}
	b.logger = f.logger.With().
		Str("mode", string(snap.OperatingMode)).
		Int64("config_version", snap.ConfigurationVersion).
		Logger()

	if !snap.IsConfigured {
		return &refusedHandler{base: b}, nil
	}
	if snap.OperatingMode == domain.ModeTest {
		return &mockHandler{base: b, ledger: f.deps.Ledger, prices: f.deps.Prices}, nil
	}

	// A credential read failure is bound into the handler so the attempt is still recorded.
	signer, wallet, err := f.credentials(readCtx)
	return &liveHandler{base: b, venue: f.deps.Venue, signer: signer, wallet: wallet, credErr: err}, nil
}

// Execute is GetHandler followed by ExecuteSwap.
func (f *Factory) Execute(ctx context.Context, pair string, side domain.Side, amount decimal.Decimal) (domain.TransactionRecord, error) {
	h, err := f.GetHandler(ctx)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return h.ExecuteSwap(ctx, pair, side, amount)
}

// resolveParams overlays TRADING entries from the configuration store on the defaults.
// An unparsable stored value keeps the default.
func (f *Factory) resolveParams(ctx context.Context) (Params, error) {
	p := f.defaults
	if f.deps.Config == nil {
		return p, nil
	}
	overrides := []struct {
		key string
		dst *decimal.Decimal
	}{
		{settings.KeyMockFeePct, &p.FeePct},
		{settings.KeyMockSlippagePct, &p.SlippagePct},
		{settings.KeyMinTradeAmount, &p.MinAmount},
		{settings.KeyMaxTradeAmount, &p.MaxAmount},
	}
	for _, o := range overrides {
		raw, ok, err := f.deps.Config.Lookup(ctx, o.key)
		if err != nil {
			return Params{}, fmt.Errorf("read %s: %w", o.key, err)
		}
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			f.logger.Warn().Str("key", o.key).Msg("ignoring invalid trading override")
			continue
		}
		*o.dst = v
	}
	return p, nil
}

// credentials prefers an API key pair; a wallet key alone signs as the wallet.
func (f *Factory) credentials(ctx context.Context) (*settlement.Signer, string, error) {
	lookup := func(key string) (string, error) {
		v, _, err := f.deps.Config.Lookup(ctx, key)
		return v, err
	}
	if f.deps.Config == nil {
		return nil, "", nil
	}
	wallet, err := lookup(settings.KeyWalletAddress)
	if err != nil {
		return nil, "", err
	}
	apiKey, err := lookup(settings.KeyAPIKey)
	if err != nil {
		return nil, "", err
	}
	apiSecret, err := lookup(settings.KeyAPISecret)
	if err != nil {
		return nil, "", err
	}
	if apiKey != "" && apiSecret != "" {
		return settlement.NewSigner(apiKey, apiSecret), wallet, nil
	}
	walletKey, err := lookup(settings.KeyWalletPrivateKey)
	if err != nil {
		return nil, "", err
	}
	if walletKey != "" && wallet != "" {
		return settlement.NewSigner(wallet, walletKey), wallet, nil
	}
	return nil, wallet, nil
}
