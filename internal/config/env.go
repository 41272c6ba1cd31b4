package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files without overriding variables already set
func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths, filepath.Join(home, ".config", "ocrinvoice", ".env"))
	}

	var existing []string
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envAliases maps config keys to the plain variable names people deploy with
var envAliases = map[string][]string{
	"ocr.api_key": {"OCR_SPACE_API_KEY", "OCRINVOICE_OCR_API_KEY"},
	"server.port": {"PORT", "OCRINVOICE_SERVER_PORT"},
}
