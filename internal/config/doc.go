// Package config handles configuration loading for trestle-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TRESTLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/trestle/gateway.yaml
//  3. ~/.config/trestle/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	upstream:
//	  hostname: "${TRESTLE_UPSTREAM_HOST}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transactions:
//	  connect_timeout: "10s"
//	  reply_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8081"   # Client-facing HTTP and WebSocket
//
// Upstream model server:
//
//	upstream:
//	  hostname: "localhost"
//	  port: 8081
//	  base_path: "api"
//	  api_version: 2
//
// Transaction limits:
//
//	transactions:
//	  connect_timeout: "10s"
//	  reply_timeout: "30s"
//	  max_trigger_rounds: 100
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/trestle/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
