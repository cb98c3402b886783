package provider

import (
	"net/http"
	"time"

	"github.com/skybridge-io/skybridge/domain"
)

// Factory builds the exchanger variant for a registry descriptor. Adding a
// provider means adding a variant here, not editing call sites.
type Factory struct {
	httpClient *http.Client
}

// NewFactory creates a factory; a nil client gets a bounded default.
func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}
	return &Factory{httpClient: client}
}

// ForDescriptor selects the exchanger variant by the descriptor's slug.
// Unknown slugs fall back to the generic OAuth2 exchanger driven entirely by
// descriptor fields.
func (f *Factory) ForDescriptor(desc *domain.ProviderDescriptor) Exchanger {
	switch desc.Slug {
	case domain.ProviderDropbox:
		return NewDropboxExchanger(desc, f.httpClient)
	case domain.ProviderGoogleDrive:
		return NewGoogleDriveExchanger(desc, f.httpClient)
	case domain.ProviderOneDrive:
		return NewOneDriveExchanger(desc, f.httpClient)
	default:
		return NewGenericExchanger(desc, f.httpClient)
	}
}

// ExpiryFrom converts a relative expires_in into an absolute instant.
// A zero expires_in yields the zero time, meaning "provider did not say".
func ExpiryFrom(now time.Time, set *TokenSet) time.Time {
	if set.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(set.ExpiresIn) * time.Second).UTC()
}
