// Package redis provides a Redis-backed checkpoint store using go-redis.
package redis
