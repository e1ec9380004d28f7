// Package main provides the entry point for the dome-auth tool, the
// authentication companion of the Dome launcher. It signs Microsoft accounts
// in through the Xbox SISU flow, manages the stored accounts, and refreshes
// the active session before a game launch.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/dome-launcher/dome-auth/internal/auth"
	"github.com/dome-launcher/dome-auth/internal/browser"
	"github.com/dome-launcher/dome-auth/internal/buildinfo"
	"github.com/dome-launcher/dome-auth/internal/config"
	"github.com/dome-launcher/dome-auth/internal/logging"
	"github.com/dome-launcher/dome-auth/internal/session"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("dome-auth Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	// Command-line flags to control the application's behavior.
	var login bool
	var noBrowser bool
	var callbackPort int
	var status bool
	var list bool
	var switchTo string
	var remove string
	var logout bool
	var refresh bool
	var configPath string

	flag.BoolVar(&login, "login", false, "Sign in a Microsoft account")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically, print the sign-in URL instead")
	flag.IntVar(&callbackPort, "callback-port", 0, "Override the local OAuth callback port (0 picks a free port)")
	flag.BoolVar(&status, "status", false, "Show the active session and its freshness")
	flag.BoolVar(&list, "list", false, "List stored accounts")
	flag.StringVar(&switchTo, "switch", "", "Switch the active account by id")
	flag.StringVar(&remove, "remove", "", "Remove a stored account by id")
	flag.BoolVar(&logout, "logout", false, "Sign out the active session, keeping the account stored")
	flag.BoolVar(&refresh, "refresh", false, "Refresh the active session if it is near expiry")
	flag.StringVar(&configPath, "config", "", "Configure file path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if callbackPort != 0 {
		cfg.CallbackPort = callbackPort
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.WithError(err).Warn("failed to configure log output")
	}

	manager, err := session.NewManager(cfg)
	if err != nil {
		log.Errorf("failed to open account store: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The launcher UI edits the same account files; mirror its changes for
	// as long as we run.
	if err = manager.Watch(ctx); err != nil {
		log.WithError(err).Warn("could not watch account files for external changes")
	}

	switch {
	case login:
		runLogin(ctx, manager, noBrowser)
	case refresh:
		runRefresh(ctx, manager)
	case status:
		runStatus(manager)
	case list:
		runList(manager)
	case switchTo != "":
		runSwitch(manager, switchTo)
	case remove != "":
		runRemove(manager, remove)
	case logout:
		runLogout(manager)
	default:
		flag.Usage()
	}
}

func runLogin(ctx context.Context, manager *session.Manager, noBrowser bool) {
	if !noBrowser && !browser.IsAvailable() {
		fmt.Println("No browser could be opened on this machine, falling back to manual sign-in.")
		noBrowser = true
	}
	if noBrowser {
		// Accept a pasted redirect URL while the listener waits.
		go readManualCallback(ctx, manager)
	}

	account, err := manager.Login(ctx, session.LoginOptions{NoBrowser: noBrowser})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Signed in as %s (%s)\n", account.Name, account.ID)
}

// readManualCallback feeds pasted redirect URLs to the waiting login attempt.
func readManualCallback(ctx context.Context, manager *session.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := manager.SubmitCallback(line); err != nil {
			fmt.Printf("Could not use that URL: %s\n", auth.GetUserFriendlyMessage(err))
			continue
		}
		return
	}
}

func runRefresh(ctx context.Context, manager *session.Manager) {
	account, err := manager.EnsureFreshForLaunch(ctx)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Session for %s is ready (expires %s)\n", account.Name, formatExpiry(account.ExpiresAt))
}

func runStatus(manager *session.Manager) {
	status := manager.CheckStatus()
	if status.Account == nil {
		fmt.Println("Not signed in.")
		return
	}
	state := "needs refresh"
	if status.Fresh {
		state = "ready"
	}
	fmt.Printf("Active account: %s (%s)\n", status.Account.Name, status.Account.ID)
	fmt.Printf("Session: %s, expires %s\n", state, formatExpiry(status.Account.ExpiresAt))
}

func runList(manager *session.Manager) {
	accountsList := manager.ListAccounts()
	if len(accountsList) == 0 {
		fmt.Println("No stored accounts.")
		return
	}
	active := manager.CheckStatus().Account
	for _, account := range accountsList {
		marker := " "
		if active != nil && active.ID == account.ID {
			marker = "*"
		}
		fmt.Printf("%s %s (%s)\n", marker, account.Name, account.ID)
	}
}

func runSwitch(manager *session.Manager, id string) {
	account, err := manager.SwitchActive(id)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Active account is now %s (%s)\n", account.Name, account.ID)
}

func runRemove(manager *session.Manager, id string) {
	if err := manager.RemoveAccount(id); err != nil {
		fail(err)
	}
	fmt.Println("Account removed.")
}

func runLogout(manager *session.Manager) {
	if err := manager.Logout(); err != nil {
		fail(err)
	}
	fmt.Println("Signed out.")
}

func formatExpiry(expiresAt int64) string {
	if expiresAt == 0 {
		return "at an unknown time"
	}
	return time.Unix(expiresAt, 0).Format(time.RFC1123)
}

func fail(err error) {
	log.Debugf("command failed: %v", err)
	fmt.Println(auth.GetUserFriendlyMessage(err))
	os.Exit(1)
}
