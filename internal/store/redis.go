// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store holds the durable side of the result pipeline: exported
// session blobs, analysis status records, identity cross references and a
// per-subject session index.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/relabs-tech/glove_capture/internal/result"
)

// Key layout:
//
//	sessions:<key>            exported CSV, expires after BlobTTL
//	processingResults:<key>   hash with status, result, health_scores, plots and identity fields
//	subjects:<id>:sessions    set of session keys recorded for a subject
const (
	blobPrefix    = "sessions:"
	resultsPrefix = "processingResults:"
)

func blobKey(key string) string { return blobPrefix + key }
func resultsKey(key string) string { return resultsPrefix + key }
func subjectKey(id string) string { return "subjects:" + id + ":sessions" }

// Redis implements result.BlobStore, result.StatusStore and
// result.IdentityRegistry on one Redis database.
type Redis struct {
	client  *redis.Client
	BlobTTL time.Duration // zero keeps blobs forever
}

// NewRedis connects to addr and checks the connection.
func NewRedis(addr string, blobTTL time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}

	return NewRedisWithClient(client, blobTTL), nil
}

func NewRedisWithClient(client *redis.Client, blobTTL time.Duration) *Redis {
	return &Redis{client: client, BlobTTL: blobTTL}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Put stores rec as CSV and returns the Redis key it lives under.
func (r *Redis) Put(ctx context.Context, key string, rec *result.Record) (string, error) {
	var buf bytes.Buffer
	if err := rec.WriteCSV(&buf); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}

	k := blobKey(key)
	if err := r.client.Set(ctx, k, buf.Bytes(), r.BlobTTL).Err(); err != nil {
		return "", fmt.Errorf("store %s: %w", k, err)
	}
	return k, nil
}

// LoadRecord reads back an exported session.
func (r *Redis) LoadRecord(ctx context.Context, key string) (*result.Record, error) {
	data, err := r.client.Get(ctx, blobKey(key)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session %s: %w", key, result.ErrNoData)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return result.ReadCSV(bytes.NewReader(data))
}

// Get returns the analysis status of key, nil while no job has reported.
func (r *Redis) Get(ctx context.Context, key string) (*result.StatusRecord, error) {
	fields, err := r.client.HGetAll(ctx, resultsKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", key, err)
	}
	if fields["status"] == "" {
		return nil, nil
	}
	return decodeStatus(fields)
}

// SetStatus records the analysis job state for key.
func (r *Redis) SetStatus(ctx context.Context, key string, rec result.StatusRecord) error {
	scores, err := json.Marshal(rec.HealthScores)
	if err != nil {
		return err
	}
	plots, err := json.Marshal(rec.Plots)
	if err != nil {
		return err
	}

	err = r.client.HSet(ctx, resultsKey(key), map[string]interface{}{
		"status":        string(rec.Status),
		"result":        rec.Result,
		"health_scores": scores,
		"plots":         plots,
		"updatedAt":     time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

// SetCrossReference merges the subject identity into the results hash and
// indexes the session under the subject.
func (r *Redis) SetCrossReference(ctx context.Context, key string, id result.Identity) error {
	if id.SubjectID == "" {
		return fmt.Errorf("cross reference %s: empty subject id", key)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, resultsKey(key), map[string]interface{}{
			"patientUid":         id.SubjectID,
			"patientEmail":       id.Contact,
			"patientDisplayName": id.DisplayName,
			"requestedAt":        time.Now().UTC().Format(time.RFC3339),
		})
		pipe.SAdd(ctx, subjectKey(id.SubjectID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cross reference %s: %w", key, err)
	}
	return nil
}

// SessionSummary is one entry of a subject's session list.
type SessionSummary struct {
	Key          string             `json:"key"`
	Status       result.Status      `json:"status,omitempty"`
	Result       string             `json:"result,omitempty"`
	HealthScores map[string]float64 `json:"health_scores,omitempty"`
	RequestedAt  string             `json:"requested_at,omitempty"`
}

// ListBySubject returns the sessions recorded for a subject, newest first.
func (r *Redis) ListBySubject(ctx context.Context, subjectID string) ([]SessionSummary, error) {
	keys, err := r.client.SMembers(ctx, subjectKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", subjectID, err)
	}
	// keys embed a UTC timestamp, so lexical order is chronological
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	out := make([]SessionSummary, 0, len(keys))
	for _, k := range keys {
		fields, err := r.client.HGetAll(ctx, resultsKey(k)).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", subjectID, err)
		}
		sum := SessionSummary{
			Key:         k,
			Status:      result.Status(fields["status"]),
			Result:      fields["result"],
			RequestedAt: fields["requestedAt"],
		}
		if raw := fields["health_scores"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &sum.HealthScores)
		}
		out = append(out, sum)
	}
	return out, nil
}

func decodeStatus(fields map[string]string) (*result.StatusRecord, error) {
	rec := &result.StatusRecord{
		Status: result.Status(fields["status"]),
		Result: fields["result"],
	}
	if raw := fields["health_scores"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.HealthScores); err != nil {
			return nil, fmt.Errorf("decode health_scores: %w", err)
		}
	}
	if raw := fields["plots"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Plots); err != nil {
			return nil, fmt.Errorf("decode plots: %w", err)
		}
	}
	return rec, nil
}
