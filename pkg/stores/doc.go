// Package stores keeps the local state of the daqconf tools in SQLite.
//
// The configuration itself never lives here. The store holds what a user
// adds on top of it: objects disabled or re-enabled for a partition, the
// history of policy evaluations, events published while watching sources
// and an audit trail of override changes. Migrations are embedded and run
// by Migrate.
package stores
