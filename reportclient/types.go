package reportclient

// Credentials are the OAuth client credentials used to obtain an access token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Scope        string
}

// idRef is the {"id": …} element of a GenerateToken request.
type idRef struct {
	ID string `json:"id"`
}
