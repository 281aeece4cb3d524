// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package authz gates administrative operations behind a caller check.
package authz

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

var (
	ErrUnauthorized = errors.New("caller is not authorized")

	_ Gate = (*AllowList)(nil)
	_ Gate = OpenGate{}
)

// Gate authorizes administrative callers.
type Gate interface {
	CanAdminister(caller ids.ShortID) error
}

// AllowList authorizes a fixed set of administrative callers.
type AllowList struct {
	admins set.Set[ids.ShortID]
}

func NewAllowList(admins []ids.ShortID) *AllowList {
	return &AllowList{
		admins: set.Of(admins...),
	}
}

func (a *AllowList) CanAdminister(caller ids.ShortID) error {
	if !a.admins.Contains(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// OpenGate authorizes every caller.
type OpenGate struct{}

func (OpenGate) CanAdminister(ids.ShortID) error {
	return nil
}
