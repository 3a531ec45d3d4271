package automation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/rs/zerolog"
)

type Options struct {
	Logger     *zerolog.Logger
	Exchange   string
	MaxRetries int // HTTP only; zero keeps the client default
}

func (o Options) logger(component string) zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return o.Logger.With().Str("component", component).Logger()
}

// BuildClientFromDSN picks the collaborator by URL scheme. An empty or
// placeholder URL still yields a client; it reports itself unconfigured.
func BuildClientFromDSN(rawURL, token string, opts Options) (leadsync.AutomationClient, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return NewHTTPClient("", token, nil), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		client := NewHTTPClient(rawURL, token, nil)
		if opts.MaxRetries > 0 {
			client.maxRetries = opts.MaxRetries
		}
		return client, nil
	case "amqp", "amqps":
		return NewAMQPClient(rawURL, opts.Exchange, opts), nil
	default:
		return nil, fmt.Errorf("unsupported automation scheme: %s", parsed.Scheme)
	}
}
