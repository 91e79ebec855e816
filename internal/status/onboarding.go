package status

import (
	"fmt"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/settings"
)

// OnboardingPayload is the initial configuration submitted by the operator.
type OnboardingPayload struct {
	Mode             string           `json:"mode"`
	WalletPrivateKey string           `json:"wallet_private_key,omitempty"`
	WalletAddress    string           `json:"wallet_address,omitempty"`
	APIKey           string           `json:"api_key,omitempty"`
	APISecret        string           `json:"api_secret,omitempty"`
	Entries          []settings.Entry `json:"entries,omitempty"`
}

// MissingCredential names the requirement that at least one complete live credential
// pair is present. A lone half of a pair is reported under its missing partner instead.
const MissingCredential = "wallet_private_key+wallet_address|api_key+api_secret"

// credentialPairs are the signing credentials live settlement accepts.
var credentialPairs = [][2]string{
	{settings.KeyAPIKey, settings.KeyAPISecret},
	{settings.KeyWalletPrivateKey, settings.KeyWalletAddress},
}

// missingCredentials returns nil when some pair is complete, the missing halves of any
// partially given pairs, or MissingCredential when no credential was given at all.
func missingCredentials(given map[string]bool) []string {
	var missing []string
	for _, pair := range credentialPairs {
		a, b := given[pair[0]], given[pair[1]]
		switch {
		case a && b:
			return nil
		case a:
			missing = append(missing, pair[1])
		case b:
			missing = append(missing, pair[0])
		}
	}
	if len(missing) == 0 {
		return []string{MissingCredential}
	}
	return missing
}

func (p OnboardingPayload) credentials() []settings.Entry {
	var out []settings.Entry
	add := func(key, value string, c settings.Category) {
		if value != "" {
			out = append(out, settings.Entry{Key: key, Value: value, Category: c})
		}
	}
	add(settings.KeyWalletPrivateKey, p.WalletPrivateKey, settings.CategoryWallet)
	add(settings.KeyWalletAddress, p.WalletAddress, settings.CategoryWallet)
	add(settings.KeyAPIKey, p.APIKey, settings.CategoryAPIKey)
	add(settings.KeyAPISecret, p.APISecret, settings.CategoryAPIKey)
	return out
}

func (p OnboardingPayload) entries() []settings.Entry {
	return append(p.credentials(), p.Entries...)
}

// PartialResult is the read-only verdict on a (possibly incomplete) onboarding payload.
type PartialResult struct {
	Complete bool              `json:"complete"`
	Errors   []errs.FieldError `json:"errors"`
	Missing  []string          `json:"missing"`
}

// Err converts an incomplete result into a ValidationError.
func (r PartialResult) Err() error {
	if r.Complete {
		return nil
	}
	ve := &errs.ValidationError{Fields: append([]errs.FieldError(nil), r.Errors...)}
	for _, m := range r.Missing {
		ve.Add(m, "required")
	}
	return ve
}

// ValidatePartial reports field errors and missing required fields without writing anything.
func (m *Manager) ValidatePartial(p OnboardingPayload) PartialResult {
	res := PartialResult{Errors: []errs.FieldError{}, Missing: []string{}}
	schema := m.store.Schema()

	if p.Mode == "" {
		res.Missing = append(res.Missing, "mode")
	} else if _, err := domain.ParseMode(p.Mode); err != nil {
		res.Errors = append(res.Errors, errs.FieldError{Field: "mode", Message: err.Error()})
	}

	given := map[string]bool{}
	for _, e := range p.entries() {
		if e.Value != "" {
			given[e.Key] = true
		}
	}
	res.Missing = append(res.Missing, missingCredentials(given)...)

	seen := map[string]bool{}
	for _, e := range p.entries() {
		if seen[e.Key] {
			res.Errors = append(res.Errors, errs.FieldError{Field: e.Key, Message: "given more than once"})
			continue
		}
		seen[e.Key] = true
		if !settings.ValidKey(e.Key) {
			res.Errors = append(res.Errors, errs.FieldError{Field: e.Key, Message: "invalid key name"})
			continue
		}
		if e.Category != "" && !e.Category.Valid() {
			res.Errors = append(res.Errors, errs.FieldError{Field: e.Key, Message: fmt.Sprintf("unknown category %q", e.Category)})
			continue
		}
		if err := settings.ValidateValue(e.Key, e.Value, schema); err != nil {
			res.Errors = append(res.Errors, errs.FieldError{Field: e.Key, Message: err.Error()})
		}
	}

	res.Complete = len(res.Errors) == 0 && len(res.Missing) == 0
	return res
}
