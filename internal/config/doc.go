// Package config handles configuration loading for ephemera.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion. Missing values take the
// defaults returned by Default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EPHEMERA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ephemera/config.yaml
//  3. ~/.config/ephemera/config.yaml
//
// When no file exists at the resolved path, the defaults are used.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${EPHEMERA_JWT_SECRET}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax. A bare number is read as
// seconds:
//
//	agents:
//	  inactive_timeout: "30s"   # or 30; 0 reclaims finished agents on the next sweep
//	  sweep_interval: "2s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8000"
//	  grpc_addr: ":50051"        # optional gRPC health endpoint
//	  shutdown_timeout: "10s"
//
//	storage:
//	  dir: "temp_agents"
//	  extension: ".go"
//
//	executor:
//	  entry_point: "Main"
//	  command: []                 # empty runs this binary's exec subcommand
//	  env: ["GOMAXPROCS=1"]
//
//	database:
//	  path: ""                    # empty disables the lifecycle ledger
//	  retention: "168h"
//
//	auth:
//	  jwt_secret: ""              # empty disables API authentication
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
