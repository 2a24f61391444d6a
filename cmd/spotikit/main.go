package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tonearm/spotikit/internal/auth"
	"github.com/tonearm/spotikit/internal/config"
	"github.com/tonearm/spotikit/internal/metrics"
	"github.com/tonearm/spotikit/internal/pipeline"
	"github.com/tonearm/spotikit/internal/ratelimit"
	"github.com/tonearm/spotikit/internal/spotify"
	"github.com/tonearm/spotikit/pkg/tokenstore"
)

const userAgent = "spotikit/1.0"

func main() {
	_ = godotenv.Load()

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if os.Getenv("ENVIRONMENT") == "development" || os.Getenv("ENVIRONMENT") == "" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		logger.Fatal().Err(err).Msg("command failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, command string, args []string) error {
	var store tokenstore.Store
	if cfg.TokenStorePath != "" {
		boltStore, err := tokenstore.NewBoltStore(cfg.TokenStorePath)
		if err != nil {
			return err
		}
		defer boltStore.Close()
		store = boltStore
	} else {
		store = tokenstore.NewMemoryStore()
	}

	flow := auth.NewFlow(auth.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.ScopeList(),
		AuthorizeURL: cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		SessionTTL:   cfg.SessionTTL,
		ExpirySkew:   cfg.TokenSkew,
	}, store, nil, logger)

	overrides, err := cfg.EndpointLimits()
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.DefaultLimit(), overrides, logger)
	defer limiter.Close()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	transport := pipeline.Decorate(&http.Client{}, pipeline.WithUserAgent(userAgent))
	pipe := pipeline.New(pipeline.Config{
		BaseURL:        cfg.APIBaseURL,
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.RequestTimeout,
	}, flow, limiter, transport, m, logger)

	userID := os.Getenv("SPOTIKIT_USER")
	if userID == "" {
		userID = "default"
	}
	client := spotify.NewClient(pipe, userID)

	switch command {
	case "login":
		return login(ctx, cfg, flow, logger, userID)
	case "logout":
		return flow.Revoke(ctx, userID)
	case "whoami":
		profile, err := client.CurrentUserProfile(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s, %s)\n", profile.DisplayName, profile.ID, profile.Product)
		return nil
	case "search":
		if len(args) < 1 {
			return fmt.Errorf("usage: spotikit search <query>")
		}
		raw, err := client.Search(ctx, args[0], []string{"track"}, 10)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	case "play":
		var uris []string
		if len(args) > 0 {
			uris = args
		}
		return client.StartPlayback(ctx, "", uris)
	case "pause":
		return client.PausePlayback(ctx)
	case "now":
		raw, err := client.CurrentlyPlaying(ctx)
		if err != nil {
			return err
		}
		if raw == nil {
			fmt.Println("nothing playing")
			return nil
		}
		fmt.Println(string(raw))
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// login runs the full authorization-code-with-PKCE flow against a local
// callback listener.
func login(ctx context.Context, cfg *config.Config, flow *auth.Flow, logger zerolog.Logger, userID string) error {
	authz, err := flow.BeginAuthorization(ctx, userID)
	if err != nil {
		return err
	}
	if authz.AlreadyAuthenticated {
		fmt.Println("already authenticated")
		return nil
	}

	listener := auth.NewCallbackListener(cfg.CallbackAddr, callbackPath(cfg.RedirectURI), logger)
	listenErr := listener.Start()
	defer listener.Close()

	fmt.Println("Open this URL in your browser to authorize:")
	fmt.Println(authz.URL)

	waitCtx, cancel := context.WithDeadline(ctx, authz.ExpiresAt)
	defer cancel()

	result, err := listener.Wait(waitCtx)
	if err != nil {
		select {
		case lerr := <-listenErr:
			return lerr
		default:
		}
		return err
	}

	rec, err := flow.CompleteAuthorization(ctx, result.State, result.Code)
	if err != nil {
		return err
	}
	logger.Info().Time("expires_at", rec.ExpiresAt).Strs("scopes", rec.Scopes).Msg("authorized")
	fmt.Println("authorization complete")
	return nil
}

// callbackPath extracts the path component of the registered redirect URI so
// the listener serves exactly what the provider will call back.
func callbackPath(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Path == "" {
		return "/callback"
	}
	return u.Path
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: spotikit <command> [args]

commands:
  login            run the browser authorization flow
  logout           delete the stored token record
  whoami           print the authenticated user's profile
  search <query>   search the catalog for tracks
  play [uri ...]   start or resume playback
  pause            pause playback
  now              show the currently playing item`)
}
