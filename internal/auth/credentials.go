// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the credentials collaborator (component J): a
// read-only username→password mapping loaded once at startup from a
// flat text file, per §6.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
)

// Verifier checks a username/password pair. It mirrors the teacher's
// auth.Provider shape (a small interface with swappable implementations)
// repurposed for inbound credential checking instead of outbound request
// signing.
type Verifier interface {
	Verify(username, password string) bool
}

// FileCredentials is a Verifier backed by a "username:password" text
// file loaded once at construction and never reloaded (§6). Lines that
// don't match the expected shape are skipped silently, per §6.
type FileCredentials struct {
	byUser map[string]string
	fold   cases.Caser
}

// LoadFile reads path and builds a FileCredentials. Usernames are
// compared case-insensitively via locale-aware folding
// (golang.org/x/text/cases), matching the teacher's dependency on
// golang.org/x/text for exactly this purpose.
func LoadFile(path string) (*FileCredentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auth: opening credentials file: %w", err)
	}
	defer f.Close()

	fold := cases.Fold()
	byUser := make(map[string]string)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx <= 0 || idx == len(line)-1 {
			continue // malformed line, skipped silently per §6
		}
		user := line[:idx]
		pass := line[idx+1:]
		if user == "" || pass == "" {
			continue
		}
		byUser[fold.String(user)] = pass
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("auth: reading credentials file: %w", err)
	}

	return &FileCredentials{byUser: byUser, fold: fold}, nil
}

// Verify reports whether username/password is a valid pair.
func (c *FileCredentials) Verify(username, password string) bool {
	want, ok := c.byUser[c.fold.String(username)]
	return ok && want == password
}

// Count returns the number of loaded credential entries.
func (c *FileCredentials) Count() int {
	return len(c.byUser)
}
