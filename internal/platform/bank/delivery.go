package bank

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDeliverySink writes codes to the service log instead of an SMS or
// email provider. Development and test deployments only; production
// wires a real provider behind DeliverySink.
type LogDeliverySink struct {
	Log zerolog.Logger
}

func (s LogDeliverySink) Deliver(ctx context.Context, channel TanChannel, address, code string) error {
	s.Log.Info().
		Str("channel", string(channel)).
		Str("address", address).
		Str("code", code).
		Msg("tan delivery (log sink)")
	return nil
}
