// Package filter declares the connection-eligibility predicate spec §1
// exposes as an out-of-scope collaborator: "Filters that decide which
// connections are eligible at all (exposed as a predicate)".
package filter

import "github.com/ctdsync/core/entity"

// Ct decides whether a ct payload is eligible for resync/population at
// all. The Internal Cache Manager's resync path (spec §4.4 step 1)
// drops any entry this predicate rejects before looking it up.
type Ct func(*entity.CTPayload) bool

// AcceptAllCt is the permissive default used when an embedder supplies
// no filter (and by this module's own tests).
func AcceptAllCt(*entity.CTPayload) bool { return true }
