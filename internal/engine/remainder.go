package engine

import (
	"fmt"

	"github.com/clanvault/settlement-engine/internal/model"
)

// AllocateRemainder applies the rule's remainder policy so that the sum of
// all payouts equals the net amount exactly. It returns the (possibly
// adjusted) participants and, for TO_FUND, the signed delta to post to the
// clan fund. Posting the fund transaction is the caller's responsibility;
// the allocator stays side-effect free.
//
// Tie-breaks are deterministic and observable in settlement output:
// HIGHEST_WEIGHT ties resolve to the earliest participant in input order,
// OLDEST_MEMBER ties resolve to the lowest member ID, and members without
// a join date sort after those with one.
func AllocateRemainder(rule *model.DistributionRule, comp *Computation) ([]ParticipantResult, int64, error) {
	participants := make([]ParticipantResult, len(comp.Participants))
	copy(participants, comp.Participants)

	// MANUAL_MEMBER must name a participant even when there is nothing to
	// allocate, so the misconfiguration never ships silently.
	if rule.RemainderPolicy == model.RemainderManualMember {
		if indexOfMember(participants, rule.ManualRemainderMemberID) < 0 {
			return nil, 0, fmt.Errorf("%w: member %q", ErrMissingRemainderTarget, rule.ManualRemainderMemberID)
		}
	}

	if comp.Remainder == 0 {
		return participants, 0, nil
	}

	switch rule.RemainderPolicy {
	case model.RemainderToFund:
		return participants, comp.Remainder, nil

	case model.RemainderHighestWeight:
		target := 0
		for i := 1; i < len(participants); i++ {
			if participants[i].FinalWeight.GreaterThan(participants[target].FinalWeight) {
				target = i
			}
		}
		participants[target].Amount += comp.Remainder
		return participants, 0, nil

	case model.RemainderOldestMember:
		target := 0
		for i := 1; i < len(participants); i++ {
			if olderMember(participants[i].Member, participants[target].Member) {
				target = i
			}
		}
		participants[target].Amount += comp.Remainder
		return participants, 0, nil

	case model.RemainderManualMember:
		target := indexOfMember(participants, rule.ManualRemainderMemberID)
		participants[target].Amount += comp.Remainder
		return participants, 0, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown remainder policy %q", ErrInvalidDistribution, rule.RemainderPolicy)
	}
}

func indexOfMember(participants []ParticipantResult, memberID string) int {
	if memberID == "" {
		return -1
	}
	for i, p := range participants {
		if p.Member.ID == memberID {
			return i
		}
	}
	return -1
}

// olderMember reports whether a should be preferred over b under the
// OLDEST_MEMBER ordering.
func olderMember(a, b model.Member) bool {
	switch {
	case a.JoinedAt == nil && b.JoinedAt == nil:
		return a.ID < b.ID
	case a.JoinedAt == nil:
		return false
	case b.JoinedAt == nil:
		return true
	case a.JoinedAt.Equal(*b.JoinedAt):
		return a.ID < b.ID
	default:
		return a.JoinedAt.Before(*b.JoinedAt)
	}
}
