// Package config provides centralized configuration management for the
// SkillMesh registry runtime. It loads a single JSON document describing the
// API server, persistence backends, contribution queue, trust computation and
// governance parameters, and fills in conservative defaults for anything the
// operator leaves unset.
package config
