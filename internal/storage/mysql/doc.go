// Package mysql provides repositories backed by MySQL for the reputation
// ledger, badge registry, certification proposals, and the contribution
// event pipeline. It encapsulates schema migrations and keeps the claim
// lifecycle safe under concurrent workers via conditional updates.
package mysql
