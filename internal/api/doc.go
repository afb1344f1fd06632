// Package api serves the medication REST surface over chi and owns the
// HTTP listener lifecycle.
//
// Everything except GET /health sits behind an optional bearer token.
// Handlers only read through reminder helpers; the scheduler timestamp and
// inventory are mutated by the dispatcher and by PATCH /taken alone.
package api
