package config

import "os"

// ExpandEnv expands environment variables in the orchestrator's YAML config
// file (orchestrator.yaml) before parsing. Supports both
// ${VAR} and $VAR syntax (standard shell-style), so deploy/config files can
// reference secrets without committing them:
//
//   - ${STASH_API_KEY} → value of STASH_API_KEY, used by pkg/stash's GraphQL client
//   - ${ORCHESTRATOR_API_KEY} → the variable ServerConfig.SharedAPIKeyEnv names by default
//   - ${STASH_GRAPHQL_ENDPOINT}/${DB_HOST} → URLs/hosts assembled from env
//
// Missing variables expand to empty string; config.Initialize's validation is
// what catches a required field left empty by a missing variable, not this
// function.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
