package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
)

// EntityResolver finds or creates the herd and animal a capture belongs to.
// It writes through the repositories it is given and never commits, so the
// caller's transaction decides durability.
type EntityResolver struct {
	now func() time.Time
}

// NewEntityResolver creates a new EntityResolver
func NewEntityResolver(now func() time.Time) *EntityResolver {
	if now == nil {
		now = time.Now
	}
	return &EntityResolver{now: now}
}

// ResolveGroup looks the group up by external ID, or by name when only a name
// hint is given. A found group only gains a farm when it has none. Returns nil
// when the capture names no group.
func (r *EntityResolver) ResolveGroup(
	ctx context.Context,
	groups scanning.GroupRepository,
	externalID, nameHint string,
	farmID *uuid.UUID,
) (*scanning.Group, error) {
	externalID = strings.TrimSpace(externalID)
	nameHint = strings.TrimSpace(nameHint)
	if externalID == "" && nameHint == "" {
		return nil, nil
	}

	var (
		group *scanning.Group
		err   error
	)
	if externalID != "" {
		group, err = groups.FindByExternalID(ctx, externalID)
	} else {
		group, err = groups.FindByName(ctx, nameHint)
	}

	switch {
	case err == nil:
		if group.BackfillFarm(farmID) {
			if err := groups.Save(ctx, group); err != nil {
				return nil, fmt.Errorf("backfill group farm: %w", err)
			}
		}
		return group, nil
	case errors.Is(err, shared.ErrNotFound):
		group = scanning.NewGroup(externalID, nameHint, farmID)
		if err := groups.Save(ctx, group); err != nil {
			return nil, fmt.Errorf("create group: %w", err)
		}
		return group, nil
	default:
		return nil, fmt.Errorf("find group: %w", err)
	}
}

// ResolveAnimal looks the animal up by RFID and moves it to the capture's farm
// and group. Without an RFID a tagless animal is created for the group. Returns
// nil when there is neither an RFID nor a group.
func (r *EntityResolver) ResolveAnimal(
	ctx context.Context,
	animals scanning.AnimalRepository,
	rfid string,
	farmID, groupID *uuid.UUID,
) (*scanning.Animal, error) {
	rfid = strings.TrimSpace(rfid)
	if rfid == "" {
		if groupID == nil {
			return nil, nil
		}
		return r.createAnimal(ctx, animals, "", farmID, groupID)
	}

	animal, err := animals.FindByRFID(ctx, rfid)
	switch {
	case err == nil:
		if animal.TrackContext(farmID, groupID) {
			if err := animals.Save(ctx, animal); err != nil {
				return nil, fmt.Errorf("update animal context: %w", err)
			}
		}
		return animal, nil
	case errors.Is(err, shared.ErrNotFound):
		return r.createAnimal(ctx, animals, rfid, farmID, groupID)
	default:
		return nil, fmt.Errorf("find animal: %w", err)
	}
}

func (r *EntityResolver) createAnimal(
	ctx context.Context,
	animals scanning.AnimalRepository,
	rfid string,
	farmID, groupID *uuid.UUID,
) (*scanning.Animal, error) {
	animal := scanning.NewAnimal(rfid, farmID, groupID, r.now())
	if err := animals.Save(ctx, animal); err != nil {
		return nil, fmt.Errorf("create animal: %w", err)
	}
	return animal, nil
}
