package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const channelSuffixBytes = 8

// GenerateChannelName builds a globally unique media channel token. Channel
// names are never reused, so an old credential can never grant access to a
// new call; the timestamp plus 64 bits of randomness keeps two sessions
// created in the same millisecond from colliding.
func GenerateChannelName() (string, error) {
	suffix := make([]byte, channelSuffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("call_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix)), nil
}
