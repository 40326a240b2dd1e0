package manifest

import "github.com/entrhq/distill/pkg/types"

// Migrate upgrades compression records created before the part/version
// scheme existed. A legacy record has no part number; it becomes part 1,
// full-session, with a message range synthesized from the session's own
// bookkeeping. Running Migrate on an already-migrated manifest is a no-op.
func Migrate(state *types.ManifestState) {
	for si := range state.Sessions {
		session := &state.Sessions[si]
		for ri := range session.Records {
			migrateRecord(session, &session.Records[ri])
		}
	}
}

func migrateRecord(session *types.SessionEntry, rec *types.CompressionRecord) {
	if rec.PartNumber >= 1 {
		return // already on the versioning scheme
	}
	rec.PartNumber = 1
	rec.FullSession = true
	rec.Migrated = true
	if rec.VersionID == 0 {
		rec.VersionID = 1
	}
	if rec.Level == "" {
		rec.Level = types.LevelModerate
	}
	if rec.Mode == "" {
		rec.Mode = "uniform"
	}
	if rec.Range.MessageCount == 0 {
		rec.Range = types.MessageRange{
			StartIndex:     0,
			EndIndex:       session.MessageCount,
			MessageCount:   session.MessageCount,
			StartTimestamp: session.FirstTimestamp,
			EndTimestamp:   session.LastTimestamp,
		}
	}
}
