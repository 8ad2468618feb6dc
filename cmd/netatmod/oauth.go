package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Invernomut0/netatmo-custom/internal/agenix"
	"github.com/Invernomut0/netatmo-custom/internal/config"
	"github.com/Invernomut0/netatmo-custom/internal/oauth"
	"github.com/Invernomut0/netatmo-custom/internal/oauthflow"
)

func oauthMain(args []string) {
	if len(args) == 0 {
		oauthUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "login", "auth-code":
		authCodeCmd(args[1:])
	case "persist":
		persistCmd(args[1:])
	default:
		oauthUsage()
		os.Exit(2)
	}
}

func oauthUsage() {
	fmt.Println("netatmod oauth <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login --redirect-url <url> [--config <path>] [--no-open]")
	fmt.Println("  persist --state <path> [--config <path>]")
}

func authCodeCmd(args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	redirectURL := flags.String("redirect-url", "", "Redirect URL registered with the Netatmo app")
	bootstrapFile := flags.String("bootstrap-file", "", "Override bootstrap file path")
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	noOpen := flags.Bool("no-open", false, "Do not open the browser automatically")
	stateOut := flags.String("state-out", "", "Write OAuth state to a temp file")
	statePath := flags.String("state-path", "", "Override persisted state path")
	cleanup := flags.Bool("cleanup", false, "Remove temp state file after successful persist")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	printToken := flags.Bool("print-token", false, "Include refresh token in output")
	persistAgenix := flags.Bool("persist-agenix", true, "Persist bootstrap secret via agenix")
	timeout := flags.Duration("timeout", 5*time.Minute, "Timeout for auth flow")
	agenixRepo := flags.String("agenix-repo", defaultAgenixRepo(), "Path to nix-secrets repo")
	agenixSecret := flags.String("agenix-secret", "", "Override agenix secret name")
	agenixRecipients := flags.String("agenix-recipients", "", "Space-separated recipient override")
	skipBlob := flags.Bool("skip-blob", false, "Skip blob storage persistence")
	_ = flags.Parse(args)

	if *redirectURL == "" {
		oauthUsage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("oauth", err)
	}

	decl := oauth.Netatmo(cfg.OAuth.StatePath)

	bootstrapPath := *bootstrapFile
	if bootstrapPath == "" {
		bootstrapPath = cfg.OAuth.BootstrapFile
	}
	bootstrap, err := oauth.LoadBootstrap(bootstrapPath)
	if err != nil {
		fatal("oauth", err)
	}

	conf := &oauth2.Config{
		ClientID:     bootstrap.ClientID,
		ClientSecret: bootstrap.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  decl.AuthorizeURL,
			TokenURL: decl.TokenURL,
		},
		RedirectURL: *redirectURL,
		Scopes:      strings.Fields(decl.Scope),
	}

	state, err := randomState(16)
	if err != nil {
		fatal("oauth", err)
	}

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	printAuthPrompt(*jsonOut, "Open this URL to authorize:", authURL, "")

	if !*noOpen {
		_ = openBrowser(authURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code, err := waitForAuthCode(ctx, *redirectURL, state, *jsonOut)
	if err != nil {
		fatal("oauth", err)
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		fatal("oauth", err)
	}
	if token.RefreshToken == "" {
		fatal("oauth", fmt.Errorf("no refresh_token returned; check scope and redirect URL"))
	}

	output, err := persistOAuthState(ctx, cfg, decl, bootstrap, token.RefreshToken, oauthRunOptions{
		flow:             "auth-code",
		jsonOut:          *jsonOut,
		printToken:       *printToken,
		stateOut:         *stateOut,
		statePath:        *statePath,
		cleanup:          *cleanup,
		persistAgenix:    *persistAgenix,
		agenixRepo:       *agenixRepo,
		agenixSecret:     *agenixSecret,
		agenixRecipients: parseRecipients(*agenixRecipients),
		skipBlob:         *skipBlob,
	})
	if err != nil {
		fatal("oauth", err)
	}

	emitOAuthOutput(output, *jsonOut, *printToken)
}

func persistCmd(args []string) {
	flags := flag.NewFlagSet("persist", flag.ExitOnError)
	statePath := flags.String("state", "", "Path to OAuth state file")
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	cleanup := flags.Bool("cleanup", false, "Remove temp state file after successful persist")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	printToken := flags.Bool("print-token", false, "Include refresh token in output")
	persistAgenix := flags.Bool("persist-agenix", true, "Persist bootstrap secret via agenix")
	agenixRepo := flags.String("agenix-repo", defaultAgenixRepo(), "Path to nix-secrets repo")
	agenixSecret := flags.String("agenix-secret", "", "Override agenix secret name")
	agenixRecipients := flags.String("agenix-recipients", "", "Space-separated recipient override")
	skipBlob := flags.Bool("skip-blob", false, "Skip blob storage persistence")
	_ = flags.Parse(args)

	if *statePath == "" {
		oauthUsage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("oauth", err)
	}

	decl := oauth.Netatmo(cfg.OAuth.StatePath)

	state, err := oauthflow.LoadState(*statePath)
	if err != nil {
		fatal("oauth", err)
	}

	bootstrap := oauth.Bootstrap{
		ClientID:     state.ClientID,
		ClientSecret: state.ClientSecret,
		RefreshToken: state.RefreshToken,
		Scope:        state.Scope,
	}

	output, err := persistLoadedState(context.Background(), cfg, decl, bootstrap, state, *statePath, false, oauthRunOptions{
		flow:             "persist",
		jsonOut:          *jsonOut,
		printToken:       *printToken,
		stateOut:         *statePath,
		cleanup:          *cleanup,
		persistAgenix:    *persistAgenix,
		agenixRepo:       *agenixRepo,
		agenixSecret:     *agenixSecret,
		agenixRecipients: parseRecipients(*agenixRecipients),
		skipBlob:         *skipBlob,
	})
	if err != nil {
		fatal("oauth", err)
	}

	emitOAuthOutput(output, *jsonOut, *printToken)
}

func waitForAuthCode(ctx context.Context, redirectURL, state string, jsonOut bool) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	if isLoopback(parsed.Hostname()) && parsed.Scheme == "http" && parsed.Host != "" {
		code, err := listenForAuthCode(ctx, parsed, state)
		if err == nil {
			return code, nil
		}
		printAuthPrompt(jsonOut, fmt.Sprintf("Warning: failed to listen for callback, falling back to manual paste: %v", err))
	}

	if jsonOut {
		fmt.Fprint(os.Stderr, "Paste the authorization code (or full redirect URL): ")
	} else {
		fmt.Print("Paste the authorization code (or full redirect URL): ")
	}
	return readCodeFromStdin()
}

func listenForAuthCode(ctx context.Context, redirect *url.URL, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Addr: redirect.Host,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if redirect.Path != "" && r.URL.Path != redirect.Path {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if errStr := query.Get("error"); errStr != "" {
				errCh <- fmt.Errorf("authorization error: %s", errStr)
				_, _ = w.Write([]byte("Authorization failed. You can close this window."))
				return
			}
			if got := query.Get("state"); got != "" && got != state {
				errCh <- fmt.Errorf("state mismatch")
				_, _ = w.Write([]byte("State mismatch. You can close this window."))
				return
			}
			code := query.Get("code")
			if code == "" {
				errCh <- fmt.Errorf("missing code in callback")
				_, _ = w.Write([]byte("Missing authorization code. You can close this window."))
				return
			}
			codeCh <- code
			_, _ = w.Write([]byte("Authorization received. You can close this window."))
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
			errCh <- err
		}
	}()
	defer func() {
		_ = srv.Close()
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("authorization timed out")
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

func readCodeFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no code provided")
	}

	if parsed, err := url.Parse(line); err == nil && parsed.Query().Get("code") != "" {
		return parsed.Query().Get("code"), nil
	}

	return line, nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "linux":
		return exec.Command("xdg-open", target).Start()
	default:
		return nil
	}
}

func randomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

type oauthRunOptions struct {
	flow             string
	jsonOut          bool
	printToken       bool
	stateOut         string
	statePath        string
	cleanup          bool
	persistAgenix    bool
	skipBlob         bool
	agenixRepo       string
	agenixSecret     string
	agenixRecipients []string
}

type oauthOutput struct {
	Provider        string `json:"provider"`
	Flow            string `json:"flow"`
	StatePath       string `json:"state_path,omitempty"`
	StateOut        string `json:"state_out,omitempty"`
	BlobPersisted   bool   `json:"blob_persisted,omitempty"`
	AgenixPersisted bool   `json:"agenix_persisted,omitempty"`
	AgenixPath      string `json:"agenix_path,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
}

func persistOAuthState(ctx context.Context, cfg *config.Config, decl oauth.Declaration, bootstrap oauth.Bootstrap, refreshToken string, opts oauthRunOptions) (oauthOutput, error) {
	if bootstrap.Scope == "" {
		bootstrap.Scope = decl.Scope
	}
	state := oauth.State{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      bootstrap.ClientID,
		ClientSecret:  bootstrap.ClientSecret,
		RefreshToken:  refreshToken,
		Scope:         decl.Scope,
	}
	return persistLoadedState(ctx, cfg, decl, bootstrap, state, opts.stateOut, true, opts)
}

func persistLoadedState(ctx context.Context, cfg *config.Config, decl oauth.Declaration, bootstrap oauth.Bootstrap, state oauth.State, tempPath string, writeTemp bool, opts oauthRunOptions) (oauthOutput, error) {
	output := oauthOutput{Provider: decl.Provider, Flow: opts.flow}
	path := tempPath
	if path == "" {
		path = oauthflow.DefaultTempPath(decl.Provider)
	}
	if writeTemp {
		if _, err := oauthflow.WriteTempState(path, state); err != nil {
			return output, err
		}
	}
	output.StateOut = path

	var blobStore oauth.BlobStore
	if !opts.skipBlob && cfg.OAuth.BlobEndpoint != "" {
		s3, err := newBlobStore(cfg)
		if err != nil {
			return output, err
		}
		blobStore = s3
	}
	persistResult, err := oauthflow.PersistState(ctx, decl, state, blobStore, oauthflow.PersistOptions{
		SkipBlob:          opts.skipBlob,
		StatePathOverride: opts.statePath,
	})
	if err != nil {
		return output, err
	}
	output.StatePath = persistResult.StatePath
	output.BlobPersisted = persistResult.BlobSaved

	if opts.persistAgenix {
		agenixPath, err := persistAgenixBootstrap(ctx, decl.Provider, bootstrap, opts)
		if err != nil {
			return output, err
		}
		output.AgenixPersisted = true
		output.AgenixPath = agenixPath
	}

	if opts.printToken {
		output.RefreshToken = state.RefreshToken
	}

	if opts.cleanup && output.StateOut != "" {
		if err := os.Remove(output.StateOut); err != nil {
			fmt.Fprintf(os.Stderr, "oauth: cleanup failed: %v\n", err)
		}
	}

	return output, nil
}

func emitOAuthOutput(output oauthOutput, jsonOut bool, printToken bool) {
	if !printToken {
		output.RefreshToken = ""
	}
	if jsonOut {
		payload, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fatal("oauth", err)
		}
		fmt.Fprintln(os.Stdout, string(payload))
		return
	}

	if output.StatePath != "" {
		fmt.Printf("State file: %s\n", output.StatePath)
	}
	if output.StateOut != "" {
		fmt.Printf("Temp state file: %s\n", output.StateOut)
	}
	fmt.Printf("Blob persisted: %t\n", output.BlobPersisted)
	if output.AgenixPersisted {
		fmt.Printf("Agenix secret: %s\n", output.AgenixPath)
	}
	if printToken && output.RefreshToken != "" {
		fmt.Printf("Refresh token: %s\n", output.RefreshToken)
	}
}

func printAuthPrompt(jsonOut bool, lines ...string) {
	out := os.Stdout
	if jsonOut {
		out = os.Stderr
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

func parseRecipients(raw string) []string {
	return strings.Fields(raw)
}

func defaultAgenixRepo() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	repo := filepath.Join(home, "code", "nix", "nix-secrets")
	info, err := os.Stat(repo)
	if err != nil || !info.IsDir() {
		return ""
	}
	return repo
}

func defaultAgenixSecret(provider string) string {
	return fmt.Sprintf("netatmod-%s-bootstrap.age", provider)
}

func persistAgenixBootstrap(ctx context.Context, provider string, bootstrap oauth.Bootstrap, opts oauthRunOptions) (string, error) {
	repo := strings.TrimSpace(opts.agenixRepo)
	if repo == "" {
		return "", fmt.Errorf("agenix repo not configured")
	}
	secret := strings.TrimSpace(opts.agenixSecret)
	if secret == "" {
		secret = defaultAgenixSecret(provider)
	}
	payload, err := json.MarshalIndent(bootstrap, "", "  ")
	if err != nil {
		return "", err
	}
	writer := agenix.Writer{
		RepoPath:   repo,
		SecretName: secret,
		Recipients: opts.agenixRecipients,
	}
	return writer.Write(ctx, payload)
}
