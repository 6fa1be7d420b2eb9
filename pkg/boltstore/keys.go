package boltstore

import "strings"

// Bucket names.
var (
	bucketMeta     = []byte("meta")
	bucketObjects  = []byte("objects")
	bucketAccounts = []byte("accounts")
	bucketLogins   = []byte("idx_login")    // loginID (lowercased) -> accountID
	bucketRoles    = []byte("idx_role")     // "role:accountID" -> accountID
	bucketLocation = []byte("idx_location") // "locationID:objectID" -> objectID
)

var keySchemaVersion = []byte("schema_version")

// indexKey builds a composite "key:member" index entry key.
func indexKey(key, member string) []byte {
	return []byte(strings.ToLower(key) + ":" + member)
}

// indexPrefix is the cursor prefix for all members under one index key.
func indexPrefix(key string) []byte {
	return []byte(strings.ToLower(key) + ":")
}
