package repository

import (
	"regexp"
	"strings"
	"time"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// transitionFilter matches the entity only while its history still has
// expectedLen entries. A missing or null history counts as empty.
func transitionFilter(id bson.ObjectID, expectedLen int) bson.D {
	if expectedLen == 0 {
		return bson.D{
			{Key: "_id", Value: id},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "stageHistory", Value: nil}},
				bson.D{{Key: "stageHistory", Value: bson.D{{Key: "$size", Value: 0}}}},
			}},
		}
	}
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "stageHistory", Value: bson.D{{Key: "$size", Value: expectedLen}}},
	}
}

func transitionUpdate(u TransitionUpdate) bson.D {
	set := bson.D{
		{Key: "stage", Value: u.Stage.Value()},
		{Key: "stageChangedAt", Value: u.ChangedAt},
		{Key: "stageHistory", Value: u.History},
		{Key: "updatedAt", Value: u.ChangedAt},
	}
	if u.LastActivityAt != nil {
		set = append(set, bson.E{Key: "lastActivityAt", Value: *u.LastActivityAt})
	}
	if u.StageSyncReason != nil {
		set = append(set, bson.E{Key: "stageSyncReason", Value: *u.StageSyncReason})
	}
	return bson.D{{Key: "$set", Value: set}}
}

// stageEquals matches a stored plain label case-insensitively.
func stageEquals(label string) bson.Regex {
	return bson.Regex{Pattern: "^" + regexp.QuoteMeta(label) + "$", Options: "i"}
}

func negotiationDealsFilter(cutoff time.Time) bson.D {
	return bson.D{
		{Key: "stage", Value: stageEquals(domain.StageNegotiation)},
		{Key: "stageChangedAt", Value: bson.D{{Key: "$lt", Value: cutoff}}},
		{Key: "isClosed", Value: bson.D{{Key: "$ne", Value: true}}},
	}
}

func inactiveDealsFilter(cutoff time.Time, excludedStages []string) bson.D {
	excluded := make(bson.A, 0, len(excludedStages)*2)
	for _, s := range excludedStages {
		excluded = append(excluded, s, strings.ToLower(s))
	}
	return bson.D{
		{Key: "stage", Value: bson.D{{Key: "$nin", Value: excluded}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "lastActivityAt", Value: bson.D{{Key: "$lt", Value: cutoff}}}},
			bson.D{{Key: "lastActivityAt", Value: nil}},
		}},
	}
}

// stageGroupsPipeline buckets leads by stored stage with the average age
// in stage measured against now.
func stageGroupsPipeline(now time.Time) bson.A {
	return bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$stage"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avgAgeMs", Value: bson.D{{Key: "$avg", Value: bson.D{
				{Key: "$subtract", Value: bson.A{
					now,
					bson.D{{Key: "$ifNull", Value: bson.A{"$stageChangedAt", "$createdAt"}}},
				}},
			}}}},
		}}},
	}
}

func lookupKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
