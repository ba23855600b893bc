package webapp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"github.com/pires/go-proxyproto"
	"nuha.dev/devicerelay/internal/relay"
)

type ApiConfig struct {
	ListenAddr string
	// StrictUpdates turns dropped invalid updates into 400 responses.
	StrictUpdates bool
	// ProxyProtocol expects a PROXY header on every accepted connection.
	ProxyProtocol   bool
	ShutdownTimeout time.Duration
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
	hub    *relay.Hub
	vld    *validator.Validate
}

// NewApi builds the router. stream is mounted at /socket when not nil.
func NewApi(hub *relay.Hub, stream http.Handler, config *ApiConfig) *Api {
	api := &Api{config: config}
	if api.config.ShutdownTimeout == 0 {
		api.config.ShutdownTimeout = 5 * time.Second
	}
	api.hub = hub
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.vld = validator.New()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if stream != nil {
		r.Handle("/socket", stream)
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(api.requestLogger)
		r.Post("/update", api.Update)
		r.Get("/devices", api.GetDevices)
		r.Get("/devices/{deviceId}/sms", api.GetSmsLog)
		r.Get("/sessions", api.GetSessions)
	})

	api.r = r
	// no read or write timeout, websocket sessions live as long as the peer
	api.s = &http.Server{
		Addr:              api.config.ListenAddr,
		Handler:           api.r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until ctx is done. Requests, including open websocket
// sessions, are cancelled together with ctx.
func (api *Api) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", api.config.ListenAddr)
	if err != nil {
		return err
	}
	if api.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	api.s.BaseContext = func(net.Listener) context.Context { return ctx }

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), api.config.ShutdownTimeout)
		defer cancel()
		if err := api.s.Shutdown(sctx); err != nil {
			api.log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	api.log.Info().Bool("proxy_protocol", api.config.ProxyProtocol).Msgf("starting api-server on : %s", ln.Addr())
	err = api.s.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		api.log.Info().Msg("api-server stopped")
		return nil
	}
	api.log.Error().Err(err).Msg("")
	return err
}

func (api *Api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		defer func() {
			api.log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(t0)).
				Str("remote_addr", r.RemoteAddr).
				Msg("")
		}()
		next.ServeHTTP(ww, r)
	})
}
