// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

// Entity type names as stored in the local store
const (
	TypeCooperation                     = "cooperation"
	TypeDimension                       = "dimension"
	TypeDigitalisationLevel             = "digitalisation_level"
	TypeOrganizationDimensionAssignment = "organization_dimension_assignment"
	TypeCooperationUser                 = "cooperation_user"
	TypeRecommendation                  = "recommendation"
	TypeInvitation                      = "invitation"
)

var (
	CooperationDescriptor = &offsync.Descriptor[*Cooperation]{
		Type: TypeCooperation,
		New:  func() *Cooperation { return &Cooperation{} },
	}
	DimensionDescriptor = &offsync.Descriptor[*Dimension]{
		Type: TypeDimension,
		New:  func() *Dimension { return &Dimension{} },
	}
	DigitalisationLevelDescriptor = &offsync.Descriptor[*DigitalisationLevel]{
		Type:       TypeDigitalisationLevel,
		New:        func() *DigitalisationLevel { return &DigitalisationLevel{} },
		Scope:      func(l *DigitalisationLevel) string { return l.DimensionID },
		References: []offsync.Reference{{Field: "dimension_id", Target: TypeDimension}},
	}
	OrganizationDimensionAssignmentDescriptor = &offsync.Descriptor[*OrganizationDimensionAssignment]{
		Type:       TypeOrganizationDimensionAssignment,
		New:        func() *OrganizationDimensionAssignment { return &OrganizationDimensionAssignment{} },
		Scope:      func(a *OrganizationDimensionAssignment) string { return a.OrganizationID },
		References: []offsync.Reference{{Field: "dimension_id", Target: TypeDimension}},
	}
	CooperationUserDescriptor = &offsync.Descriptor[*CooperationUser]{
		Type:       TypeCooperationUser,
		New:        func() *CooperationUser { return &CooperationUser{} },
		Scope:      func(u *CooperationUser) string { return u.CooperationID },
		References: []offsync.Reference{{Field: "cooperation_id", Target: TypeCooperation}},
	}
	RecommendationDescriptor = &offsync.Descriptor[*Recommendation]{
		Type:       TypeRecommendation,
		New:        func() *Recommendation { return &Recommendation{} },
		Scope:      func(r *Recommendation) string { return r.DimensionID },
		References: []offsync.Reference{{Field: "dimension_id", Target: TypeDimension}},
	}
	InvitationDescriptor = &offsync.Descriptor[*Invitation]{
		Type:       TypeInvitation,
		New:        func() *Invitation { return &Invitation{} },
		Scope:      func(i *Invitation) string { return i.CooperationID },
		References: []offsync.Reference{{Field: "cooperation_id", Target: TypeCooperation}},
	}
)

// Kind describes an entity type independently of its Go type
type Kind struct {
	Type       string
	Collection string // REST collection path segment
	ScopeField string // JSON field holding the scope; empty when the type is unscoped
	New        func() offsync.Entity
}

// kinds is ordered so that referenced types come before the types referencing them
var kinds = []Kind{
	{TypeCooperation, "cooperations", "", func() offsync.Entity { return &Cooperation{} }},
	{TypeDimension, "dimensions", "", func() offsync.Entity { return &Dimension{} }},
	{TypeDigitalisationLevel, "digitalisation-levels", "dimension_id", func() offsync.Entity { return &DigitalisationLevel{} }},
	{TypeOrganizationDimensionAssignment, "organization-dimensions", "organization_id", func() offsync.Entity { return &OrganizationDimensionAssignment{} }},
	{TypeCooperationUser, "cooperation-users", "cooperation_id", func() offsync.Entity { return &CooperationUser{} }},
	{TypeRecommendation, "recommendations", "dimension_id", func() offsync.Entity { return &Recommendation{} }},
	{TypeInvitation, "invitations", "cooperation_id", func() offsync.Entity { return &Invitation{} }},
}

// Kinds returns every entity kind, parents first
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// KindOf looks a kind up by its type name
func KindOf(entityType string) (Kind, bool) {
	for _, k := range kinds {
		if k.Type == entityType {
			return k, true
		}
	}
	return Kind{}, false
}

// KindByCollection looks a kind up by its REST collection
func KindByCollection(collection string) (Kind, bool) {
	for _, k := range kinds {
		if k.Collection == collection {
			return k, true
		}
	}
	return Kind{}, false
}

// Collection maps an entity type to its REST collection path
func Collection(entityType string) string {
	k, _ := KindOf(entityType)
	return k.Collection
}

// Set holds the registered stack of every entity type
type Set struct {
	Cooperations           *offsync.Binding[*Cooperation]
	Dimensions             *offsync.Binding[*Dimension]
	DigitalisationLevels   *offsync.Binding[*DigitalisationLevel]
	OrganizationDimensions *offsync.Binding[*OrganizationDimensionAssignment]
	CooperationUsers       *offsync.Binding[*CooperationUser]
	Recommendations        *offsync.Binding[*Recommendation]
	Invitations            *offsync.Binding[*Invitation]
}

// RemoteConfig holds what every HTTP remote of a Set shares
type RemoteConfig struct {
	BaseURL      string
	Token        func(context.Context) (string, error)
	HTTP         *http.Client
	Connectivity *offsync.Connectivity
}

// RegisterHTTP registers every entity type on eng, each talking to its collection under cfg.BaseURL
func RegisterHTTP(eng *offsync.Engine, cfg RemoteConfig, repoCfg *offsync.RepositoryConfig) (*Set, error) {
	var (
		set Set
		err error
	)
	if set.Cooperations, err = registerHTTP(eng, CooperationDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.Dimensions, err = registerHTTP(eng, DimensionDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.DigitalisationLevels, err = registerHTTP(eng, DigitalisationLevelDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.OrganizationDimensions, err = registerHTTP(eng, OrganizationDimensionAssignmentDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.CooperationUsers, err = registerHTTP(eng, CooperationUserDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.Recommendations, err = registerHTTP(eng, RecommendationDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	if set.Invitations, err = registerHTTP(eng, InvitationDescriptor, cfg, repoCfg); err != nil {
		return nil, err
	}
	return &set, nil
}

func registerHTTP[E offsync.Entity](eng *offsync.Engine, desc *offsync.Descriptor[E], cfg RemoteConfig, repoCfg *offsync.RepositoryConfig) (*offsync.Binding[E], error) {
	remote, err := offsync.NewHTTPRemote(desc, offsync.HTTPRemoteConfig{
		BaseURL:      cfg.BaseURL,
		Collection:   Collection(desc.Type),
		Token:        cfg.Token,
		HTTP:         cfg.HTTP,
		Connectivity: cfg.Connectivity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s remote: %w", desc.Type, err)
	}
	return offsync.Register[E](eng, desc, remote, nil, repoCfg)
}
