// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"

	"github.com/livekit/abr-ingress/pkg/errors"
)

// KeyedQueue runs submitted tasks one at a time per key, in submission order. Tasks for
// different keys run concurrently. A drain goroutine exists only while a key has work.
type KeyedQueue struct {
	lock   sync.Mutex
	queues map[string]*deque.Deque[func()]

	wg     sync.WaitGroup
	closed core.Fuse
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{
		queues: make(map[string]*deque.Deque[func()]),
	}
}

func (q *KeyedQueue) Submit(key string, task func()) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed.IsBroken() {
		return errors.ErrQueueClosed
	}

	d, ok := q.queues[key]
	if !ok {
		d = &deque.Deque[func()]{}
		q.queues[key] = d
		q.wg.Add(1)
		go q.drain(key, d)
	}
	d.PushBack(task)

	return nil
}

// QueueLength returns the number of tasks waiting for key, excluding a running one.
func (q *KeyedQueue) QueueLength(key string) int {
	q.lock.Lock()
	defer q.lock.Unlock()

	if d, ok := q.queues[key]; ok {
		return d.Len()
	}
	return 0
}

// Close stops accepting tasks. Tasks already queued still run.
func (q *KeyedQueue) Close() {
	q.lock.Lock()
	q.closed.Break()
	q.lock.Unlock()
}

// Wait blocks until every queued task has run.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}

func (q *KeyedQueue) drain(key string, d *deque.Deque[func()]) {
	defer q.wg.Done()

	for {
		q.lock.Lock()
		if d.Len() == 0 {
			delete(q.queues, key)
			q.lock.Unlock()
			return
		}
		task := d.PopFront()
		q.lock.Unlock()

		task()
	}
}
