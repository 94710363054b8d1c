// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

// EventKind names the notifications the queue and the task runner publish.
type EventKind string

const (
	EventTaskAdded   EventKind = "task_added"
	EventTaskStatus  EventKind = "task_status"
	EventTaskEnded   EventKind = "task_ended"
	EventQueueAdded  EventKind = "queue_added"
	EventQueueStatus EventKind = "queue_status"
	EventQueueEnded  EventKind = "queue_ended"
)

// Event is one published notification.
type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data"`
}

// Notifier receives queue events. Implementations must not block; slow
// consumers should buffer internally.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) { f(event) }
