package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"family-planner/internal/model"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
)

// FamilyService answers "who acts on whose behalf" for every other service.
type FamilyService struct {
	users    *repository.UserRepository
	families *repository.FamilyRepository
	loc      *time.Location
}

func NewFamilyService(users *repository.UserRepository, families *repository.FamilyRepository, loc *time.Location) *FamilyService {
	if loc == nil {
		loc = time.UTC
	}
	return &FamilyService{users: users, families: families, loc: loc}
}

// taskVisible reports whether actor may see or schedule task: their own,
// a family member's, or a chore of their family.
func taskVisible(task model.Task, actor schedule.Actor) bool {
	if containsID(actor.MemberIDs, task.OwnerID) {
		return true
	}
	return task.FamilyID != nil && actor.FamilyID != nil && *task.FamilyID == *actor.FamilyID
}

// Actor builds the validator's view of userID: the user plus every member
// of their family, if any.
func (s *FamilyService) Actor(ctx context.Context, userID uint) (schedule.Actor, error) {
	actor := schedule.Actor{UserID: userID, MemberIDs: []uint{userID}}
	family, err := s.families.FindByUser(ctx, userID)
	if err != nil {
		return actor, fmt.Errorf("load family of user %d: %w", userID, err)
	}
	if family != nil {
		id := family.ID
		actor.FamilyID = &id
		actor.MemberIDs = family.MemberIDs()
	}
	return actor, nil
}

// FamilyOf returns the user's family or ErrNoFamily.
func (s *FamilyService) FamilyOf(ctx context.Context, userID uint) (*model.Family, error) {
	family, err := s.families.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load family of user %d: %w", userID, err)
	}
	if family == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNoFamily)
	}
	return family, nil
}

func (s *FamilyService) Family(ctx context.Context, familyID uint) (*model.Family, error) {
	return s.families.FindByID(ctx, familyID)
}

func (s *FamilyService) ListFamilies(ctx context.Context) ([]model.Family, error) {
	return s.families.ListAll(ctx)
}

// CreateFamily starts a family with the creator as its first member.
func (s *FamilyService) CreateFamily(ctx context.Context, creator *model.User, name string) (*model.Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: family name is required", ErrInvalidInput)
	}
	existing, err := s.families.FindByUser(ctx, creator.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user %d already belongs to family %d", ErrInvalidInput, creator.ID, existing.ID)
	}
	return s.families.Create(ctx, name, creator.ID)
}

// Join adds userID to familyID. Joining twice is a no-op.
func (s *FamilyService) Join(ctx context.Context, familyID, userID uint) error {
	if _, err := s.families.FindByID(ctx, familyID); err != nil {
		return fmt.Errorf("load family %d: %w", familyID, err)
	}
	existing, err := s.families.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != familyID {
		return fmt.Errorf("%w: user %d already belongs to family %d", ErrInvalidInput, userID, existing.ID)
	}
	return s.families.AddMember(ctx, familyID, userID)
}

// Location is the user's timezone with the configured fallback.
func (s *FamilyService) Location(ctx context.Context, userID uint) (*time.Location, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return user.Location(s.loc), nil
}

// Members loads the users of familyID in id order.
func (s *FamilyService) Members(ctx context.Context, familyID uint) ([]model.User, error) {
	family, err := s.families.FindByID(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("load family %d: %w", familyID, err)
	}
	return s.users.ListByIDs(ctx, family.MemberIDs())
}

// Localize moves every placement into its assignee's timezone, so that
// weekday and time-of-day checks see local wall time. Unknown assignees
// are left as they are.
func (s *FamilyService) Localize(ctx context.Context, batch []schedule.Placement) []schedule.Placement {
	locs := make(map[uint]*time.Location)
	out := make([]schedule.Placement, len(batch))
	for i, p := range batch {
		loc, ok := locs[p.AssigneeID]
		if !ok {
			var err error
			if loc, err = s.Location(ctx, p.AssigneeID); err != nil {
				loc = nil
			}
			locs[p.AssigneeID] = loc
		}
		if loc != nil {
			p.Start, p.End = p.Start.In(loc), p.End.In(loc)
		}
		out[i] = p
	}
	return out
}

func (s *FamilyService) User(ctx context.Context, userID uint) (*model.User, error) {
	return s.users.FindByID(ctx, userID)
}
