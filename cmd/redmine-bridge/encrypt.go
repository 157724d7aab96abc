// ABOUTME: The encrypt command prints the enc: form of a config value
// ABOUTME: Creates the encryption key in the fast store on first use

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/2389/redmine-bridge/internal/config"
	"github.com/2389/redmine-bridge/internal/secrets"
	"github.com/2389/redmine-bridge/internal/store"
)

func readValue(args []string, in io.Reader) (string, error) {
	if len(args) > 1 {
		return "", errors.New("encrypt takes at most one value")
	}
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", errors.New("no value given")
	}
	return value, nil
}

func encryptValue(ctx context.Context, kv store.KV, value string, logger *slog.Logger) (string, error) {
	keyring := secrets.NewKeyring(kv, logger)
	if _, err := keyring.Ensure(ctx); err != nil {
		return "", fmt.Errorf("ensuring encryption key: %w", err)
	}
	return keyring.EncryptConfigValue(ctx, value)
}

func runEncrypt(ctx context.Context, configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	// Diagnostics go to stderr so stdout carries only the result.
	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "Value to encrypt: ")
	}
	value, err := readValue(args, os.Stdin)
	if err != nil {
		return err
	}

	kv, err := openKV(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
	}
	defer kv.Close()

	sealed, err := encryptValue(ctx, kv, value, logger)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
