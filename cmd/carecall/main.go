// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command carecall runs the Aleutian care conversation agent.
//
// # Commands
//
//   - serve: Start the care gateway (websocket calls, SSE turns, metrics).
//   - chat: Talk to the agent from the terminal.
//   - tools: List or export the tool schemas.
//   - skills: List skills or show which ones match an utterance.
//
// # Configuration
//
// Settings are read from ~/.aleutian/care.yaml (created on first run) and
// overridden by CARE_* environment variables. The OpenAI key comes from
// OPENAI_API_KEY or /run/secrets/openai_api_key.
//
// # Usage
//
//	# Build
//	go build -o carecall ./cmd/carecall
//
//	# Serve
//	OPENAI_API_KEY=... ./carecall serve
//
//	# Chat as a given subject
//	./carecall chat --name 김영희 --age 80 --medications 혈압약
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
