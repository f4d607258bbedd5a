package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/server"
	"github.com/desertthunder/likesync/internal/shared"
	"github.com/urfave/cli/v3"
)

const authTimeout = 2 * time.Minute

// Link performs the OAuth2 authorization-code flow, stores the token for the authorizing user
// and runs the first sync.
//
// Starts a local HTTP server, opens the browser for user authorization, and exchanges the auth code for tokens.
func (r *Runner) Link(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}
	if err := r.openSpotify(); err != nil {
		return err
	}

	pair, err := r.doOAuth(ctx)
	if err != nil {
		return err
	}

	profile, err := r.spotify.UserProfile(ctx, pair.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to resolve Spotify user: %w", err)
	}

	if _, err := r.tokens.Store(ctx, profile.ID, pair); err != nil {
		return err
	}

	r.logger.Info("account linked", "user", profile.ID)
	r.writePlainln("✓ Linked %s (%s)", profile.DisplayName, profile.ID)

	if cmd.Bool("skip-sync") {
		return r.writePlain("Run 'likesync sync %s' to fetch liked tracks\n", profile.ID)
	}
	return r.syncOne(ctx, profile.ID)
}

// Disconnect removes the user's token. The mirror and sync metadata are kept.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	if err := r.openEngine(); err != nil {
		return err
	}

	if err := r.tokens.Remove(ctx, userID); err != nil {
		return err
	}
	return r.writePlain("✓ Disconnected %s\n", userID)
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context) (models.TokenPair, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := r.spotify.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(r.spotify, state)
	router := server.NewBasicRouter()
	router.Use(server.Recoverer(r.logger))
	router.Handler(oauthHandler)

	serverAddr := net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	listener, err := net.Listen("tcp", serverAddr)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to listen on %s: %w", serverAddr, err)
	}
	httpServer := server.NewHTTPServer(serverAddr, router)

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", authTimeout)

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return models.TokenPair{}, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return models.TokenPair{}, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, authTimeout)
	case <-ctx.Done():
		return models.TokenPair{}, ctx.Err()
	}

	if result.Err() != nil {
		return models.TokenPair{}, fmt.Errorf("authorization failed: %w", result.Err())
	}
	if result.Pair.AccessToken == "" || result.Pair.RefreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("%w: incomplete token pair received", shared.ErrAuthFailed)
	}

	return result.Pair, nil
}

// requireArg returns the named positional argument or [shared.ErrMissingArgument].
func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.StringArg(name)
	if v == "" {
		return "", fmt.Errorf("%w: <%s>", shared.ErrMissingArgument, name)
	}
	return v, nil
}
