// Package main implements notes-collab-auth-check, a CLI that walks the OAuth
// discovery and client credentials flow against a running notes collaboration
// server and confirms the issued token is accepted by the REST API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/httpclient"
)

type checkOptions struct {
	ServerURL    string
	NoteID       string
	ClientID     string
	ClientSecret string
	Scope        string
	Verbose      bool
	Out          io.Writer
}

type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

type authServerMetadata struct {
	TokenEndpoint string `json:"token_endpoint"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

var resourceMetadataPattern = regexp.MustCompile(`resource_metadata="([^"]+)"`)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "notes-collab-auth-check",
		Short: "Check OAuth authentication against a notes collaboration server",
		Long: `Performs protected resource discovery, fetches authorization server
metadata, acquires a client credentials token and retries the participants
endpoint with it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := checkOptions{
				ServerURL:    v.GetString("server-url"),
				NoteID:       v.GetString("note-id"),
				ClientID:     v.GetString("client-id"),
				ClientSecret: v.GetString("client-secret"),
				Scope:        v.GetString("scope"),
				Verbose:      v.GetBool("verbose"),
				Out:          cmd.OutOrStdout(),
			}
			return runAuthCheck(cmd.Context(), opts)
		},
	}

	cmd.Flags().String("server-url", "", "Server URL (env: NOTES_COLLAB_SERVER_URL)")
	cmd.Flags().String("note-id", "welcome", "Note whose participants are requested")
	cmd.Flags().String("client-id", "", "OAuth client ID (env: NOTES_COLLAB_CLIENT_ID)")
	cmd.Flags().String("client-secret", "", "OAuth client secret (env: NOTES_COLLAB_CLIENT_SECRET)")
	cmd.Flags().String("scope", "notes:read", "OAuth scope")
	cmd.Flags().BoolP("verbose", "v", false, "Show step-by-step output")
	_ = v.BindPFlags(cmd.Flags())

	return cmd
}

func (o checkOptions) validate() error {
	if o.ServerURL == "" {
		return fmt.Errorf("server-url is required (set via --server-url or NOTES_COLLAB_SERVER_URL)")
	}
	if o.ClientID == "" {
		return fmt.Errorf("client-id is required (set via --client-id or NOTES_COLLAB_CLIENT_ID)")
	}
	if o.ClientSecret == "" {
		return fmt.Errorf("client-secret is required (set via --client-secret or NOTES_COLLAB_CLIENT_SECRET)")
	}
	if o.NoteID == "" {
		return fmt.Errorf("note-id cannot be empty")
	}
	return nil
}

func (o checkOptions) step(n int, message string) {
	if o.Verbose {
		fmt.Fprintf(o.Out, "Step %d: %s\n", n, message)
	}
}

func (o checkOptions) detail(format string, args ...any) {
	if o.Verbose {
		fmt.Fprintf(o.Out, "  "+format+"\n", args...)
	}
}

func runAuthCheck(ctx context.Context, opts checkOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.validate(); err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	discovery := httpclient.NewDefaultClient(30 * time.Second)
	participantsURL := fmt.Sprintf("%s/api/v1/notes/%s/participants",
		strings.TrimSuffix(opts.ServerURL, "/"), url.PathEscape(opts.NoteID))

	opts.step(1, "Requesting participants without credentials...")
	wwwAuth, err := unauthenticatedChallenge(ctx, client, participantsURL)
	if err != nil {
		return err
	}
	opts.detail("WWW-Authenticate: %s", wwwAuth)

	opts.step(2, "Parsing WWW-Authenticate header...")
	metadataURL, err := parseWWWAuthenticate(wwwAuth)
	if err != nil {
		return fmt.Errorf("failed to parse WWW-Authenticate header: %w", err)
	}
	opts.detail("resource_metadata: %s", metadataURL)

	opts.step(3, "Fetching protected resource metadata...")
	var prm protectedResourceMetadata
	if err := httpclient.GetJSON(ctx, discovery, metadataURL, &prm); err != nil {
		return fmt.Errorf("failed to fetch protected resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return fmt.Errorf("no authorization servers found in protected resource metadata")
	}
	opts.detail("authorization_servers: %v", prm.AuthorizationServers)

	opts.step(4, "Fetching authorization server metadata...")
	asm, err := fetchAuthServerMetadata(ctx, discovery, prm.AuthorizationServers[0])
	if err != nil {
		return err
	}
	opts.detail("token_endpoint: %s", asm.TokenEndpoint)

	opts.step(5, "Acquiring access token...")
	token, err := acquireToken(ctx, client, asm.TokenEndpoint, opts)
	if err != nil {
		return fmt.Errorf("failed to acquire access token: %w", err)
	}
	opts.detail("token acquired (expires in %ds)", token.ExpiresIn)

	opts.step(6, "Retrying with the access token...")
	if err := authenticatedRequest(ctx, client, participantsURL, token.AccessToken); err != nil {
		return err
	}

	fmt.Fprintln(opts.Out, "Success! OAuth discovery flow validated.")
	return nil
}

func unauthenticatedChallenge(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make unauthenticated request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("expected 401 Unauthorized, got %s", resp.Status)
	}
	wwwAuth := resp.Header.Get("WWW-Authenticate")
	if wwwAuth == "" {
		return "", fmt.Errorf("missing WWW-Authenticate header in 401 response")
	}
	return wwwAuth, nil
}

// parseWWWAuthenticate extracts resource_metadata from an RFC 9728 challenge.
func parseWWWAuthenticate(header string) (string, error) {
	matches := resourceMetadataPattern.FindStringSubmatch(header)
	if len(matches) < 2 {
		return "", fmt.Errorf("resource_metadata not found in WWW-Authenticate header")
	}
	return matches[1], nil
}

func fetchAuthServerMetadata(ctx context.Context, c httpclient.Client, issuer string) (*authServerMetadata, error) {
	base := strings.TrimSuffix(issuer, "/")
	endpoints := []string{
		base + "/.well-known/oauth-authorization-server",
		base + "/.well-known/openid-configuration",
	}

	var lastErr error
	for _, endpoint := range endpoints {
		var asm authServerMetadata
		if err := httpclient.GetJSON(ctx, c, endpoint, &asm); err != nil {
			lastErr = err
			continue
		}
		if asm.TokenEndpoint == "" {
			lastErr = fmt.Errorf("token_endpoint not found in metadata from %s", endpoint)
			continue
		}
		return &asm, nil
	}
	return nil, fmt.Errorf("failed to fetch authorization server metadata: %w", lastErr)
}

func acquireToken(ctx context.Context, client *http.Client, endpoint string, opts checkOptions) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", opts.ClientID)
	form.Set("client_secret", opts.ClientSecret)
	if opts.Scope != "" {
		form.Set("scope", opts.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httpclient.MaxResponseSize))
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := decodeJSON(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response did not include an access_token")
	}
	return &token, nil
}

func authenticatedRequest(ctx context.Context, client *http.Client, target, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create authenticated request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make authenticated request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 403 still proves the token was accepted; it only lacks access to the note.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httpclient.MaxResponseSize))
		return fmt.Errorf("expected 200 OK or 403 Forbidden, got %s: %s", resp.Status, string(body))
	}
	return nil
}

func decodeJSON(r io.Reader, dst any) error {
	return json.NewDecoder(io.LimitReader(r, httpclient.MaxResponseSize)).Decode(dst)
}
