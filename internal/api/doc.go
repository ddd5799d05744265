// Package api exposes the REST surface of the SkillMesh registry: reputation
// lookups, contribution and validation submission, certification proposals and
// the administrative trust recompute endpoint. It also hosts the health and
// metrics endpoints consumed by operators.
package api
