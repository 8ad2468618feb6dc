package oauth

// Declaration pins a provider's OAuth endpoints, scope and where the
// refresh state lives on disk.
type Declaration struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	Scope        string
	StatePath    string
}

const (
	netatmoAuthorizeURL = "https://api.netatmo.com/oauth2/authorize"
	netatmoTokenURL     = "https://api.netatmo.com/oauth2/token"
	netatmoScope        = "read_thermostat write_thermostat"
)

// Netatmo returns the declaration for the Netatmo Energy API.
func Netatmo(statePath string) Declaration {
	return Declaration{
		Provider:     "netatmo",
		AuthorizeURL: netatmoAuthorizeURL,
		TokenURL:     netatmoTokenURL,
		Scope:        netatmoScope,
		StatePath:    statePath,
	}
}
