// Package config handles configuration loading for anfd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every field has a default, so a missing file is a valid configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ANF_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/anf/daemon.yaml
//  3. ~/.config/anf/daemon.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${ANF_STATE_DIR}/tasks.db"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dispatcher:
//	  poll_interval: "100ms"
//	dedupe:
//	  ttl: "10m"
//
// # Configuration Sections
//
// Command socket:
//
//	daemon:
//	  socket_path: "/tmp/anf.sock"
//	  read_timeout: "30s"
//	  write_timeout: "10s"
//
// Delegate peer:
//
//	delegate:
//	  enabled: true
//	  socket_path: "/tmp/anf_python.sock"
//
// Agent catalog:
//
//	agents:
//	  custom_dir: "~/.anf/agents"
//	  default_agent: "coder"
//
// Task journal (empty path disables it, zero retention keeps everything):
//
//	database:
//	  path: "~/.anf/tasks.db"
//	  retention: "168h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Health and metrics over HTTP:
//
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
