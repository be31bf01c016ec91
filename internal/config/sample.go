// ABOUTME: Annotated sample configuration written by "anfd init"
// ABOUTME: Kept loadable; a test parses it on every run

package config

// Sample is a commented daemon.yaml matching Default.
const Sample = `# anfd configuration

daemon:
  socket_path: "/tmp/anf.sock"
  read_timeout: "30s"
  write_timeout: "10s"

# Peer that serves swarm_*, hive_* and collaborate
delegate:
  enabled: true
  socket_path: "/tmp/anf_python.sock"

agents:
  custom_dir: "~/.anf/agents"   # *.yaml, *.toml, *.json, *.jsonc
  default_agent: "coder"        # target of legacy "ask:<prompt>"

dispatcher:
  poll_interval: "100ms"
  executor_delay: "100ms"

dedupe:
  ttl: "10m"
  max_entries: 10000

# Task journal; set path to "" to keep history in memory only
database:
  path: "~/.anf/tasks.db"
  retention: "168h"

logging:
  level: "info"    # debug, info, warn, error
  format: "text"   # text, json

metrics:
  enabled: false
  addr: "127.0.0.1:9464"
  path: "/metrics"
`
