package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IPKey hashes a source address so raw IPs never reach the store
func IPKey(ip, salt string) string {
	return "ip:" + digest(salt, strings.TrimSpace(ip))
}

// EmailKey hashes a normalized email address
func EmailKey(email, salt string) string {
	return "email:" + digest(salt, strings.ToLower(strings.TrimSpace(email)))
}

// UserKey scopes a limit to a user id
func UserKey(userID string) string {
	return "user:" + userID
}

// TenantKey scopes a limit to a tenant id
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

func digest(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:16])
}
