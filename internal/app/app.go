// Package app builds the client object graph shared by the portal and
// payctl: one session store, one client per API version and the services
// on top of them.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/config"
	"github.com/zhouzirui/z-pay/client/internal/metrics"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	authservice "github.com/zhouzirui/z-pay/client/internal/service/auth"
	qrservice "github.com/zhouzirui/z-pay/client/internal/service/qr"
	"github.com/zhouzirui/z-pay/client/internal/session"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

// App is the wired client.
type App struct {
	Storage  storage.Storage
	Sessions *session.Store
	API      *apiclient.Client
	APIV2    *apiclient.Client
	Auth     *authservice.Service
	QR       *qrservice.Service
	Metrics  *metrics.Metrics

	unsubscribe func()
}

// Options are the process specific parts of the graph.
type Options struct {
	Navigator  navigation.Navigator
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// New wires the client. The session store is returned unhydrated; callers
// decide whether to hydrate inline or in the background.
func New(cfg config.APIConfig, st storage.Storage, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.New(opts.Registerer)
	store := session.NewStore(st, session.WithLogger(logger.Named("session")))
	unsubscribe := store.Subscribe(func(s session.State) {
		m.SetAuthenticated(s.IsAuthenticated)
	})

	common := []apiclient.Option{
		apiclient.WithStorage(st),
		apiclient.WithSession(store),
		apiclient.WithNavigator(opts.Navigator),
		apiclient.WithMetrics(m),
		apiclient.WithLogger(logger.Named("apiclient")),
	}

	api, err := apiclient.New(cfg.BaseURL, append(common,
		apiclient.WithName("api"),
		apiclient.WithTimeout(cfg.Timeout),
	)...)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("api client: %w", err)
	}

	apiV2, err := apiclient.New(cfg.V2BaseURL, append(common,
		apiclient.WithName("api_v2"),
		apiclient.WithTimeout(cfg.V2Timeout),
	)...)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("api v2 client: %w", err)
	}

	return &App{
		Storage:     st,
		Sessions:    store,
		API:         api,
		APIV2:       apiV2,
		Auth:        authservice.NewService(api, store, st, logger.Named("auth")),
		QR:          qrservice.NewService(apiV2, logger.Named("qr")),
		Metrics:     m,
		unsubscribe: unsubscribe,
	}, nil
}

// Close detaches the metrics observer from the session store.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
