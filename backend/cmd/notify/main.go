// Command notify posts a single game notification to a running relay.
// It is the manual counterpart of the indexer hook and is handy for poking
// subscribed clients during development.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
	"github.com/agyn-ub/eth-minority-rule-sub000/backend/notifier"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("notify", pflag.ContinueOnError)

	var (
		url       = fs.StringP("url", "u", "http://localhost:8080", "relay base url")
		timeout   = fs.DurationP("timeout", "t", notifier.DefaultTimeout, "request timeout")
		eventType = fs.StringP("event", "e", "", "event type, e.g. GameCreated")
		gameID    = fs.StringP("game", "g", "", "numeric game id")
		data      = fs.StringP("data", "d", "{}", "event data as a json object")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	n := model.Notification{
		EventType: model.EventType(*eventType),
		GameID:    *gameID,
		Data:      json.RawMessage(*data),
	}
	if err := n.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("refusing to send")
	}

	client := notifier.New(notifier.Config{
		Logger:  &logger,
		BaseURL: *url,
		Timeout: *timeout,
	})

	start := time.Now()
	if err := client.Send(context.Background(), n); err != nil {
		logger.Fatal().Err(err).Msg("notification failed")
	}
	logger.Info().
		Str("eventType", *eventType).
		Str("gameId", *gameID).
		Dur("took", time.Since(start)).
		Msg("notification accepted")
}
