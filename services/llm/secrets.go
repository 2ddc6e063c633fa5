// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// DefaultSecretPath is where container runtimes mount the OpenAI key.
const DefaultSecretPath = "/run/secrets/openai_api_key"

// ErrNoAPIKey is returned when no key source yields a value.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set and secret not found")

// LoadAPIKey reads the API key from envVar, falling back to secretPath, and
// seals it in a memguard enclave. The plaintext copy is wiped.
func LoadAPIKey(envVar, secretPath string) (*memguard.Enclave, error) {
	key := strings.TrimSpace(os.Getenv(envVar))
	if key == "" && secretPath != "" {
		data, err := os.ReadFile(secretPath)
		if err == nil {
			key = strings.TrimSpace(string(data))
			memguard.WipeBytes(data)
			if key != "" {
				slog.Info("Read the OpenAI API key from mounted secret", slog.String("path", secretPath))
			}
		}
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}
	return memguard.NewEnclave([]byte(key)), nil
}
