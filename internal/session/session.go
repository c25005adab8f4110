// Package session keeps server-side bookkeeping for tab session markers: a
// record per sid (Redis-backed or in memory) and a registry of per-sid state
// that stays isolated between tabs.
package session
