// Package config handles configuration loading for the coven-acp bridge.
//
// # Overview
//
// Two files configure the bridge: a TOML bridge config and a YAML
// agent-definitions file. Both support environment variable expansion.
//
// # Bridge Configuration
//
// Default locations (in order):
//
//  1. Path from COVEN_ACP_CONFIG environment variable
//  2. ~/.config/coven-acp/bridge.toml (XDG_CONFIG_HOME respected)
//
// Sections:
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "@coven:example.org"
//	password = "${COVEN_MATRIX_PASSWORD}"
//	recovery_key = "${COVEN_RECOVERY_KEY}"
//	allowed_users = ["@you:example.org"]
//	allowed_rooms = ["!room:example.org"]
//
//	[agents]
//	command = ["kiro-cli", "acp", "--verbose"]
//	definitions_path = "~/.config/coven-acp/agents.yaml"
//	default_agent = "default"
//	default_dir = "/home/you/projects"
//	pass_agent_flag = true
//	request_timeout = "300s"
//
//	[bridge]
//	command_prefix = "!"
//	typing_indicator = true
//	state_path = "~/.local/share/coven-acp/conversation.json"
//
//	[database]
//	path = "~/.local/share/coven-acp/ledger.db"
//
//	[logging]
//	level = "info"   # debug, info, warn, error
//	format = "text"  # text, json
//
// # Agent Definitions
//
// The YAML file maps agent names to working directories:
//
//	agents:
//	  web:
//	    working_directory: "${HOME}/src/web"
//	    description: "Frontend project"
//	  infra:
//	    working_directory: "${HOME}/src/infra"
//
// A missing agents file is not an error; the bridge runs with just the
// default agent.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables with the
// ${VAR_NAME} syntax. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("300s", "5m").
package config
