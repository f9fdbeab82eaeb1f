package tools

import (
	"log/slog"

	"github.com/rendis/influencer/internal/xapi"
)

// RegisterBuiltins registers the four posting-API tools backed by client.
func RegisterBuiltins(reg *Registry, client xapi.Client, logger *slog.Logger) error {
	all := []Tool{
		NewFetchTweets(client, logger),
		NewReadTweet(client),
		NewCreateTweet(client),
		NewRepostTweet(client),
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
