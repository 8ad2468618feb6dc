package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Invernomut0/netatmo-custom/internal/config"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
	"github.com/Invernomut0/netatmo-custom/internal/oauth"
)

func webhookMain(args []string) {
	if len(args) == 0 {
		webhookUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "add":
		webhookAddCmd(args[1:])
	case "drop":
		webhookDropCmd(args[1:])
	default:
		webhookUsage()
		os.Exit(2)
	}
}

func webhookUsage() {
	fmt.Println("netatmod webhook <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  add [--url <public url>] [--config <path>]")
	fmt.Println("  drop [--config <path>]")
}

func webhookAddCmd(args []string) {
	flags := flag.NewFlagSet("webhook add", flag.ExitOnError)
	callbackURL := flags.String("url", "", "Public webhook URL (defaults to netatmo.webhook_url)")
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("webhook add", err)
	}

	target := *callbackURL
	if target == "" {
		target = cfg.Netatmo.WebhookURL
	}
	if target == "" {
		fatal("webhook add", fmt.Errorf("--url is required when netatmo.webhook_url is not configured"))
	}

	client, err := webhookClient(cfg)
	if err != nil {
		fatal("webhook add", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.AddWebhook(ctx, target); err != nil {
		fatal("webhook add", err)
	}
	fmt.Printf("Webhook registered: %s\n", target)
}

func webhookDropCmd(args []string) {
	flags := flag.NewFlagSet("webhook drop", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("webhook drop", err)
	}

	client, err := webhookClient(cfg)
	if err != nil {
		fatal("webhook drop", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.DropWebhook(ctx); err != nil {
		fatal("webhook drop", err)
	}
	fmt.Println("Webhook dropped")
}

func webhookClient(cfg *config.Config) (*netatmo.Client, error) {
	manager, err := newOAuthManager(cfg)
	if err != nil {
		return nil, err
	}
	// One-shot command: the initial synchronous refresh primes the token.
	manager.StartWithInterval(context.Background(), oauth.DefaultRefreshInterval)
	return newVendorClient(cfg, manager)
}
