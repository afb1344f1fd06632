// Package medication holds the medication record, the frequency resolver and
// the dose timeline math. Everything here is pure and safe for concurrent use.
package medication
