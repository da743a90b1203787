package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// generateConsumerName produces a random per-process consumer identity when
// none is configured, so multiple service instances sharing GroupName never
// collide.
func generateConsumerName() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "consumer"
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}
