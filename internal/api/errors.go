// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package api

import (
	"errors"

	"github.com/dymelabs/tastecore/internal/logging"
	"github.com/dymelabs/tastecore/internal/recommend"
	"github.com/dymelabs/tastecore/internal/store"
)

// Sentinel errors for the handler-level taxonomy. Store and selector errors
// are mapped onto the same taxonomy in writeDomainError.
var (
	ErrNotGroupMember = errors.New("caller is not a member of this group")
	ErrGroupEmpty     = errors.New("group has no members")
)

// writeDomainError maps a domain error to its HTTP representation:
// NotFound 404, PermissionDenied 403, FailedPrecondition 412, anything
// unrecognized 500. The selector's no-signal and no-match conditions are
// not-found class: the resource the caller asked for (a recommendation) does
// not exist.
func writeDomainError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, recommend.ErrNoSignal), errors.Is(err, recommend.ErrNoMatch):
		rw.NotFound(err.Error())
	case errors.Is(err, ErrNotGroupMember):
		rw.PermissionDenied(err.Error())
	case errors.Is(err, ErrGroupEmpty):
		rw.FailedPrecondition(err.Error())
	default:
		logger := logging.Ctx(rw.r.Context())
		logger.Error().Err(err).Msg("unhandled domain error")
		rw.Internal("internal error")
	}
}
