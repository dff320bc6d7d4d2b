package redis

// Key prefixes for primary entity storage.
const (
	prefixSession    = "rewind:sess:"
	prefixGroup      = "rewind:grp:"
	prefixDefinition = "rewind:def:"
	prefixQuarantine = "rewind:qrn:"
	prefixProject    = "rewind:proj:"
)

// Event streams are hashes of seq -> wire form, one per session.
const hEvents = "rewind:h:evt:" // + session ID

// Key prefixes for unique indexes.
const (
	uniqueGroupFingerprint = "rewind:u:grp:fp:"   // + project ID + "/" + fingerprint
	uniqueDefinitionName   = "rewind:u:def:name:" // + name
	uniqueProjectKey       = "rewind:u:proj:key:" // + ingest key
)

// Key prefixes for sorted set indexes.
const (
	zSessionAll     = "rewind:z:sess:all"      // scored by started_at
	zSessionProject = "rewind:z:sess:project:" // + project ID, scored by started_at
	zSessionOpen    = "rewind:z:sess:open"     // scored by last_seen_at
	zGroupAll       = "rewind:z:grp:all"       // scored by count
	zGroupProject   = "rewind:z:grp:project:"  // + project ID, scored by count
	zDefinitionAll  = "rewind:z:def:all"       // lexicographic by name
	zQuarantineAll  = "rewind:z:qrn:all"       // scored by failed_at
	zProjectAll     = "rewind:z:proj:all"
)

// Key prefixes for set indexes.
const (
	sSessionBatches = "rewind:s:batch:" // + session ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// fingerprintKey returns the unique index key for a project fingerprint.
func fingerprintKey(projectID, fingerprint string) string {
	return uniqueGroupFingerprint + projectID + "/" + fingerprint
}
