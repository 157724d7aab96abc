// ABOUTME: The init command writes a commented config template
// ABOUTME: Secrets are referenced as ${VARS} so they can live in a .env file

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

const configTemplate = `# redmine-bridge configuration
# ${VAR} references are expanded from the environment (and .env).

matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@redmine:example.org"
  access_token: "${MATRIX_ACCESS_TOKEN}"
  device_id: ""
  # Empty means every room the bot is invited to.
  allowed_rooms: []
  e2ee: false
  # Holds the crypto store and, with the redis cache, the message ledger.
  data_dir: "/var/lib/redmine-bridge"
  pickle_key: ""
  recovery_key: ""

redmine:
  url: "https://redmine.example.org"
  # API key used to download attachments for notifications.
  admin_api_key: "${REDMINE_ADMIN_API_KEY}"
  # Custom field holding each user's Matrix login.
  custom_field_id: 1
  open_status_ids: "1,2,3"
  timeout: "30s"
  default_priority: "Обязательно"
  priorities:
    "Обязательно": 4
    "Срочно": 6
    "НЕМЕДЛЕННО": 7

cache:
  backend: "sqlite"   # sqlite or redis
  path: "/var/lib/redmine-bridge/cache.db"
  token_ttl: "24h"
  redis:
    addr: "localhost:6379"
    username: ""
    password: "${REDIS_PASSWORD}"
    db: 0

# The Redmine database, read to look up users' API tokens.
# Run "redmine-bridge encrypt" to store the password as enc:...
database:
  driver: "mysql"     # mysql, postgres or sqlite
  host: "localhost"
  port: 3306
  user: "redmine"
  password: "${REDMINE_DB_PASSWORD}"
  name: "redmine"

webhook:
  addr: "0.0.0.0:5000"
  path: "/v1/redmine"
  secret_token: "${WEBHOOK_SECRET_TOKEN}"

logging:
  level: "info"       # debug, info, warn, error
  format: "text"      # text or json

metrics:
  enabled: false
  path: "/metrics"
`

func writeTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func runInit(path string, force bool) error {
	if err := writeTemplate(path, force); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ✓ ")
	fmt.Printf("Wrote %s\n", path)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("      1. Fill in the homeserver, Redmine URL, and custom field id")
	fmt.Println("      2. Put the secrets in .env or the environment")
	fmt.Println("      3. redmine-bridge encrypt  (optional, for database.password)")
	fmt.Println("      4. redmine-bridge serve")
	return nil
}
