package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the persisted .checksums file next to the config.
// It records the BLAKE3 hash of the config file at the time it was locked,
// so unauthorized edits (the config names the HMAC secret reference and the
// webhook path) are detected at startup.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// resolveConfigFile resolves a file-or-directory config path to the config
// file itself, mirroring Load.
func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}
	return absPath, nil
}

// Lock computes the config file hash and writes the .checksums manifest
// alongside it.
func Lock(configPath string) error {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return err
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes: map[string]string{
			filepath.Base(absPath): hash,
		},
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions; the manifest is the trust anchor.
	checksumPath := filepath.Join(filepath.Dir(absPath), ".checksums")
	if err := os.WriteFile(checksumPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	return nil
}

// VerifyIntegrity checks the config file against the .checksums manifest.
// A missing manifest is a warning (returned as a non-empty string); a hash
// mismatch is a hard error.
func VerifyIntegrity(configPath string) (warning string, err error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return "", err
	}

	checksumPath := filepath.Join(filepath.Dir(absPath), ".checksums")
	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("no .checksums manifest found at %s; run 'config lock' to enable integrity verification", checksumPath), nil
		}
		return "", fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return "", fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	name := filepath.Base(absPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return "", fmt.Errorf("config file %s has no hash in checksums (run 'config lock')", name)
	}

	actual, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return "", fmt.Errorf("hash mismatch for %s (expected %s, got %s)\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: config lock", name, expected, actual)
	}

	return "", nil
}
