package embed

// TokenTypeEmbed marks the credential in Config as an embed token.
const TokenTypeEmbed = "embed"

// ReportType is the only embeddable type this package produces.
const ReportType = "report"

// BackgroundTransparent lets the page show through the report canvas.
const BackgroundTransparent = "transparent"

// Artifacts are the three credentials a token cycle produces.
type Artifacts struct {
	AccessToken string
	EmbedURL    string
	EmbedToken  string
}

// Complete reports whether every artifact is present.
func (a Artifacts) Complete() bool {
	return a.AccessToken != "" && a.EmbedURL != "" && a.EmbedToken != ""
}

// Settings are display settings passed to the surface.
type Settings struct {
	Background string `json:"background"`
}

// Config is what the surface needs to render a report.
type Config struct {
	Type        string   `json:"type"`
	TokenType   string   `json:"tokenType"`
	AccessToken string   `json:"accessToken"`
	EmbedURL    string   `json:"embedUrl"`
	ID          string   `json:"id"`
	Settings    Settings `json:"settings"`
}

// NewConfig builds the configuration for reportID. With token type embed the
// surface authenticates with the embed token, so the OAuth access token is
// not part of the configuration.
func NewConfig(a Artifacts, reportID string) Config {
	return Config{
		Type:        ReportType,
		TokenType:   TokenTypeEmbed,
		AccessToken: a.EmbedToken,
		EmbedURL:    a.EmbedURL,
		ID:          reportID,
		Settings:    Settings{Background: BackgroundTransparent},
	}
}
