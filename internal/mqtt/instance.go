package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateInstanceID reads the installation id from dataDir, or
// generates a new UUIDv7 and persists it. The id keeps the broker
// client id unique per installation and stable across restarts.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "instance_id")

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	idStr := id.String()
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return idStr, nil
}

// clientID appends the tail of the instance id to base so two
// installations sharing a config never kick each other off the broker.
func clientID(base, instanceID string) string {
	id := strings.ReplaceAll(instanceID, "-", "")
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	if id == "" {
		return base
	}
	return base + "-" + id
}
