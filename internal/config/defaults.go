package config

// DefaultConfigYAML is written by `casework config init`. Values not listed
// here fall back to the loader defaults.
const DefaultConfigYAML = `# casework configuration
# Environment overrides use the CASEWORK_ prefix, e.g. CASEWORK_PROVIDER_API_KEY.

log:
  level: info
  format: auto

analysis:
  number_of_queries: 2
  max_search_depth: 2
  max_parallel_categories: 4
  analysis_structure: "liability analysis, damages assessment, key witnesses, timeline of events, document evidence, deposition strategy"
  include_deposition_questions: true
  max_witnesses: 5
  search_limit: 10
  search_threshold: 0.7

provider:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  # planner_model: gpt-4o
  call_timeout: 2m
  max_retries: 3
  requests_per_minute: 60

search:
  index_path: .casework/documents.db
  cache_ttl: 10m

checkpoint:
  # sqlite | json | redis | memory
  backend: sqlite
  path: .casework/checkpoints.db
  lock_ttl: 30s
  redis:
    addr: localhost:6379
    prefix: "casework:"

server:
  addr: 127.0.0.1:8088

telemetry:
  # none | stdout | otlp
  exporter: none
`
