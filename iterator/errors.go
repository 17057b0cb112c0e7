package iterator

import "errors"

// These sentinel errors name the iterator's failure modes. The iterator
// itself reports every one of these conditions only by setting the
// query's ExtState to qstate.StateError; no function in this package
// returns these values.

// ErrReferralLoop names a referral chain longer than
// Config.MaxReferrals (spec.md §4.F, §7).
var ErrReferralLoop = errors.New("iterator: too many referrals")

// ErrCNAMELoop names a CNAME chain longer than Config.MaxCNAMEChain.
var ErrCNAMELoop = errors.New("iterator: cname chain too long")

// ErrAllTargetsFailed names the case where every target of the current
// delegation point has been tried without a usable result.
var ErrAllTargetsFailed = errors.New("iterator: all targets exhausted")

// ErrNonDescendingReferral names a referral whose zone name is not a
// strict subdomain of (or equal-with-new-glue to) the current delegation
// point's name — an ordering regression per spec.md §4.F.
var ErrNonDescendingReferral = errors.New("iterator: referral does not descend")

// ErrNoUsableDelegation names the case where INIT cannot find any
// delegation point — cache, hints, or root — to start from.
var ErrNoUsableDelegation = errors.New("iterator: no usable delegation point")
