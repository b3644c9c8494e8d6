// Package config handles configuration loading for prompt-forge.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, then overlaid with PROMPTFORGE_* environment variables. Every
// field has a default, so an empty file is a valid configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PROMPTFORGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/prompt-forge/config.yaml
//  3. ~/.config/prompt-forge/config.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PROMPTFORGE_JWT_SECRET}"
//
// Selected sections can also be set directly, which wins over the file:
//
//	PROMPTFORGE_SERVER_HTTP_ADDR=:9090
//	PROMPTFORGE_DATABASE_DRIVER=postgres
//	PROMPTFORGE_DATABASE_URL=postgres://forge@db/forge
//	PROMPTFORGE_KAFKA_BROKERS=kafka-1:9092,kafka-2:9092
//	PROMPTFORGE_LOGGING_LEVEL=debug
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  driver: "sqlite"            # sqlite, postgres
//	  path: "/var/lib/prompt-forge/prompt-forge.db"
//	  url: ""                     # postgres connection string
//
//	subscriptions:
//	  retention: "168h"           # unpulled subscriptions older than this are reclaimed
//	  sweep_interval: "1h"
//	  sweep_timeout: "30s"
//	  auto_subscribe_timeout: "500ms"
//
//	notifications:
//	  send_timeout: "5s"
//	  max_concurrency: 16
//	  subject_prefix: "swarm.forge.agent"
//
//	kafka:
//	  enabled: false
//	  brokers: ["localhost:9092"]
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	tailscale:
//	  enabled: false
//	  hostname: "prompt-forge"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
