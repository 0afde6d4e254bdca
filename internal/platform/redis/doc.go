// Package redis implements the task store and the queue broker on top of a
// shared Redis instance. Records are JSON strings under task_storage:<id>
// with a TTL, queues are lists written with LPUSH and drained with BRPOP.
package redis
