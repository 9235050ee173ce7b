/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package token serializes access to singleton hardware resources.
// The staging mailbox is one register block system-wide, so at most
// one staging run may hold its token at a time.
package token

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrHeld is returned when the resource token is already held.
var ErrHeld = errors.New("resource token already held")

// Token guards one exclusive resource.
type Token struct {
	sem *semaphore.Weighted
}

func New() *Token {
	return &Token{sem: semaphore.NewWeighted(1)}
}

// Acquire takes the token without blocking. Contenders are expected to
// fail fast and let their caller decide on a retry policy, not queue
// up behind the holder.
func (t *Token) Acquire() (*Session, error) {
	if !t.sem.TryAcquire(1) {
		return nil, ErrHeld
	}

	return &Session{token: t, id: uuid.New()}, nil
}

// Session is one successful acquisition of a Token. The session ID
// correlates log output from everything done under the token.
type Session struct {
	token *Token
	id    uuid.UUID
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Release returns the token. Release is not idempotent; call it
// exactly once per session.
func (s *Session) Release() {
	s.token.sem.Release(1)
}
