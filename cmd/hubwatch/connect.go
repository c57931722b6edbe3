package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/hubclient"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/session"
)

var errConnectionLost = errors.New("hub connection lost")

// connect starts a session against the configured hub and blocks until it is
// connected. The returned close function tears the gateway client down.
func connect(ctx context.Context) (*session.Manager, func(), error) {
	loader := hubclient.NewLoader(hubclient.Config{Token: cfg.HubToken})
	sess := session.New(loader, cfg.HubURL)
	if err := sess.Start(ctx); err != nil {
		return nil, nil, err
	}

	facade, err := sess.WaitConnected(ctx)
	if err != nil {
		// A late facade still owns a running client.
		sess.BecameConnected().Then(func(f hub.Facade, err error) {
			if err == nil {
				closeFacade(f)
			}
		})
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.HubURL, err)
	}

	logging.Info("connected to hub",
		zap.String("hub", cfg.HubURL),
		zap.String("session", sess.ID()))
	return sess, func() { closeFacade(facade) }, nil
}

func closeFacade(f hub.Facade) {
	if c, ok := f.(interface{ Close() }); ok {
		c.Close()
	}
}

// untilDisconnected blocks until ctx ends or the session drops. It returns
// errConnectionLost in the latter case.
func untilDisconnected(ctx context.Context, sess *session.Manager) error {
	select {
	case <-ctx.Done():
		logging.Info("shutting down...")
		return nil
	case <-sess.BecameDisconnected().Done():
		return errConnectionLost
	}
}
