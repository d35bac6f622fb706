package quest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GeneratePeriod mints the canonical quest set for one period: count quests
// per (user, community) pair. Instances carry fresh ids; the store's unique
// index on (userId, communityId, periodKey, periodSeq) makes re-generation a
// no-op for pairs that already have the period.
func GeneratePeriod(userIDs, communityIDs []string, typ Type, now time.Time, count, xp int) []Quest {
	key := PeriodKeyFor(typ, now)
	out := make([]Quest, 0, len(userIDs)*len(communityIDs)*count)
	for _, uid := range userIDs {
		for _, cid := range communityIDs {
			for seq := 1; seq <= count; seq++ {
				out = append(out, Quest{
					ID:           uuid.NewString(),
					UserID:       uid,
					CommunityID:  cid,
					Description:  fmt.Sprintf("%s quest %d for %s", typ, seq, key),
					XPValue:      xp,
					Type:         typ,
					PeriodKey:    key,
					PeriodSeq:    seq,
					PeriodStatus: currentPeriodStatus(typ),
				})
			}
		}
	}
	return out
}

func currentPeriodStatus(typ Type) PeriodStatus {
	if typ == TypeWeekly {
		return PeriodThisWeek
	}
	return PeriodToday
}
