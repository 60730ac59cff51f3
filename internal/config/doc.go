// Package config defines configuration structures for the bdex CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (BDEX_ prefix)
//   - YAML configuration file
//
// Later sources win: defaults, then the file, then the environment, then
// flags.
//
// # File format
//
//	manifest_url: https://i0.hdslb.com/bfs/album/%s.png
//	workers: 8
//	skip_hash: false
//	keep_blocks: false
//	verify_blocks: false
//	verify_output: false
//	block_store: s3://my-bucket?region=us-east-1
//	retry:
//	  attempts: 8
//	  stall_backoff: 1s
//	http:
//	  timeout: 30s
//	  user_agent: bdex/1.0
//	  rate_limit: 0
//	  retry_attempts: 0
//	  retry_backoff: 1s
//	  retry_max_backoff: 30s
//
// # Environment
//
// Every key maps to an upper-case variable, nested keys joined with an
// underscore: BDEX_WORKERS, BDEX_RETRY_ATTEMPTS, BDEX_HTTP_TIMEOUT.
package config
