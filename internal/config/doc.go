// Package config loads and validates the intake-gateway YAML configuration.
//
// Files support ${VAR_NAME} environment variable expansion and Go duration
// strings for timing fields. The agents map declares one AgentConfig per
// pipeline role (intake, parser, doctor, report, language); each entry may
// carry a fallback endpoint tried once after the primary retry budget is
// exhausted.
package config
