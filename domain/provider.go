package domain

import "time"

// Provider slugs understood by the exchanger registry. A descriptor whose
// slug is not one of the branded providers is served by the generic OAuth2
// exchanger.
const (
	ProviderDropbox     = "dropbox"
	ProviderGoogleDrive = "gdrive"
	ProviderOneDrive    = "onedrive"
	ProviderGeneric     = "generic"
)

// TokenMethod is the HTTP method a provider's token endpoint expects.
type TokenMethod string

const (
	TokenMethodGet  TokenMethod = "GET"
	TokenMethodPost TokenMethod = "POST"
)

// ProviderDescriptor is the static per-provider configuration owned by the
// cloud-provider registry. This subsystem only reads it.
type ProviderDescriptor struct {
	ID           string      `bson:"_id,omitempty" json:"id"`
	Slug         string      `bson:"slug" json:"slug"` // e.g. "dropbox", "gdrive"
	DisplayName  string      `bson:"display_name" json:"display_name"`
	AuthURL      string      `bson:"auth_url" json:"auth_url"`
	TokenURL     string      `bson:"token_url" json:"token_url"`
	ClientID     string      `bson:"client_id" json:"client_id"`
	ClientSecret string      `bson:"client_secret" json:"-"`
	Scopes       []string    `bson:"scopes,omitempty" json:"scopes,omitempty"`
	GrantType    string      `bson:"grant_type,omitempty" json:"grant_type,omitempty"`
	TokenMethod  TokenMethod `bson:"token_method,omitempty" json:"token_method,omitempty"`
	// ProbeURL is an optional authenticated endpoint used by health checks
	// for generically configured providers. Branded exchangers know their own.
	ProbeURL  string    `bson:"probe_url,omitempty" json:"probe_url,omitempty"`
	IsEnabled bool      `bson:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Redacted returns a copy safe for API responses.
func (d ProviderDescriptor) Redacted() ProviderDescriptor {
	d.ClientSecret = ""
	return d
}
